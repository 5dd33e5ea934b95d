package node

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/FraMan97/hydfs/internal/membership"
)

const helpText = `HyDFS commands:
  create <localfile> <hydfsfile>    create file in HyDFS from a local file
  get <hydfsfile> <localfile>       fetch a HyDFS file into a local file
  append <localfile> <hydfsfile>    append a local file to a HyDFS file
  merge <hydfsfile>                 reconcile all replicas of a file
  ls <hydfsfile>                    list the replicas holding a file
  store                             list files stored on this node
  getfromreplica <host:port> <hydfsfile> <localfile>
                                    fetch from one specific replica
  cat <localfile>                   print a cached local file

  join                              join the network via the introducer
  leave                             leave the network and exit
  list_mem                          print the membership list
  list_mem_ids                      print members with ring positions
  list_self                         print this node's id
  display_suspects                  print suspected members
  display_protocol                  print the failure-detection mode
  switch <gossip|ping> <suspect|nosuspect>
                                    switch failure-detection mode
  help                              this message`

// Shell runs the interactive command loop on stdin until leave or EOF.
func (n *Node) Shell() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "help":
			fmt.Println(helpText)
		case "create":
			if !expectArgs(fields, 3) {
				continue
			}
			n.Files.Create(fields[1], fields[2])
		case "get":
			if !expectArgs(fields, 3) {
				continue
			}
			n.Files.Get(fields[1], fields[2])
		case "append":
			if !expectArgs(fields, 3) {
				continue
			}
			n.Files.Append(fields[1], fields[2])
		case "merge":
			if !expectArgs(fields, 2) {
				continue
			}
			n.Files.Merge(fields[1])
		case "ls":
			if !expectArgs(fields, 2) {
				continue
			}
			n.Files.Ls(fields[1])
		case "store":
			n.Files.ListStore()
		case "getfromreplica":
			if !expectArgs(fields, 4) {
				continue
			}
			n.Files.GetFromReplica(fields[1], fields[2], fields[3])
		case "cat":
			if !expectArgs(fields, 2) {
				continue
			}
			n.Files.Cat(fields[1])
		case "join":
			if n.Self.Host == n.Introducer.Host && n.Self.Port == n.Introducer.Port {
				fmt.Println("this node is the introducer and cannot join itself")
				continue
			}
			n.Join()
		case "leave":
			n.Leave()
			return
		case "list_mem":
			for _, e := range n.Membership.List().Snapshot() {
				fmt.Printf("  %s %s (inc %d, hb %d)\n", e.Node, e.Status, e.Incarnation, e.Heartbeat)
			}
		case "list_mem_ids":
			for _, e := range n.Membership.List().Snapshot() {
				fmt.Printf("  %s %s ring=%d\n", e.Node, e.Status, e.Node.Position())
			}
		case "list_self":
			fmt.Printf("  %s ring=%d\n", n.Self, n.Self.Position())
		case "display_suspects":
			found := false
			for _, e := range n.Membership.List().Snapshot() {
				if e.Status == membership.Suspect {
					fmt.Printf("  %s suspected since %s\n", e.Node, e.StatusSince.Format("15:04:05"))
					found = true
				}
			}
			if !found {
				fmt.Println("  no suspects")
			}
		case "display_protocol":
			fmt.Printf("  %s\n", n.Membership.Mode())
		case "switch":
			if !expectArgs(fields, 3) {
				continue
			}
			mode, ok := parseMode(fields[1], fields[2])
			if !ok {
				fmt.Println("usage: switch <gossip|ping> <suspect|nosuspect>")
				continue
			}
			n.Membership.Switch(mode)
		default:
			fmt.Println("INVALID COMMAND (try 'help')")
		}
	}
}

func expectArgs(fields []string, n int) bool {
	if len(fields) != n {
		fmt.Printf("wrong number of arguments for %q (try 'help')\n", fields[0])
		return false
	}
	return true
}

func parseMode(detector, suspicion string) (membership.Mode, bool) {
	suspect := suspicion == "suspect"
	if !suspect && suspicion != "nosuspect" {
		return 0, false
	}
	switch detector {
	case "gossip":
		if suspect {
			return membership.GossipSuspect, true
		}
		return membership.Gossip, true
	case "ping":
		if suspect {
			return membership.PingAckSuspect, true
		}
		return membership.PingAck, true
	}
	return 0, false
}
