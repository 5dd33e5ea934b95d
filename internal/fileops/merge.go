package fileops

import (
	"log"
	"net"
	"sort"
	"strconv"

	"github.com/FraMan97/hydfs/internal/config"
	"github.com/FraMan97/hydfs/internal/model"
	"github.com/FraMan97/hydfs/internal/transport"
	"github.com/FraMan97/hydfs/internal/wire"
)

// Canonicalize dedups a union of replica blocks and orders it into the
// canonical sequence: client_id, then sequence_num, then timestamp, then
// block id. Blocks sharing (client, sequence) are replica-divergent copies
// of the same logical write (a create installed independently on each
// replica); only the earliest survives.
func Canonicalize(all []model.Block) []model.Block {
	byID := make(map[uint64]struct{}, len(all))
	out := make([]model.Block, 0, len(all))
	for _, blk := range all {
		if _, dup := byID[blk.BlockID]; dup {
			continue
		}
		byID[blk.BlockID] = struct{}{}
		out = append(out, blk)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ClientID != b.ClientID {
			return a.ClientID < b.ClientID
		}
		if a.SequenceNum != b.SequenceNum {
			return a.SequenceNum < b.SequenceNum
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.BlockID < b.BlockID
	})

	collapsed := out[:0]
	for i, blk := range out {
		if i > 0 {
			prev := collapsed[len(collapsed)-1]
			if prev.ClientID == blk.ClientID && prev.SequenceNum == blk.SequenceNum {
				continue
			}
		}
		collapsed = append(collapsed, blk)
	}
	return collapsed
}

// runMerge is the coordinator's two-phase reconciliation. It must run off
// the ingress worker: it parks waiting for COLLECT_BLOCKS responses that
// arrive on that worker. requester is nil when the merge was invoked on
// this node's own shell.
func (h *Handler) runMerge(name string, requester *net.UDPAddr) bool {
	replicas := h.ring.Replicas(name, config.ReplicationFactor)
	peers := make([]model.NodeId, 0, len(replicas))
	for _, r := range replicas {
		if !h.isSelf(r) {
			peers = append(peers, r)
		}
	}

	// Phase one: collect every replica's blocks. Missing responses are
	// tolerated; reconciliation proceeds over the received subset.
	var collected []collectedBlocks
	if len(peers) > 0 {
		key := "collect/" + name
		op := h.pending.register(key, len(peers), "")
		body := wire.CollectBlocksRequest{HydfsName: name}.Encode()
		for _, peer := range peers {
			h.sendToNode(wire.KindCollectBlocksRequest, body, peer)
		}
		res, _ := h.pending.wait(op, config.CollectTimeout)
		h.pending.remove(key)
		collected = res.collected
	}

	all := h.store.Blocks(name)
	maxVersion := uint32(0)
	if meta, ok := h.store.Metadata(name); ok {
		maxVersion = meta.Version
	}

	peerHolds := make(map[string]map[uint64]struct{}, len(collected))
	for _, c := range collected {
		holds := make(map[uint64]struct{}, len(c.resp.Blocks))
		for _, blk := range c.resp.Blocks {
			holds[blk.BlockID] = struct{}{}
			all = append(all, blk)
		}
		peerHolds[c.addr] = holds
		if c.resp.Version > maxVersion {
			maxVersion = c.resp.Version
		}
	}

	if len(all) == 0 {
		log.Printf("[FileOps] - Merge %q failed: file not found on any replica\n", name)
		h.replyMerge(requester, name, false, "file not found", 0)
		return false
	}

	canonical := Canonicalize(all)
	newVersion := maxVersion + 1
	h.store.Merge(name, canonical, newVersion)

	// Phase two: ship blocks each responder is missing, then the canonical
	// order. Non-responders converge on a later merge.
	ids := make([]uint64, 0, len(canonical))
	for _, blk := range canonical {
		ids = append(ids, blk.BlockID)
	}
	update := wire.MergeUpdateMessage{
		HydfsName:      name,
		MergedBlockIDs: ids,
		NewVersion:     newVersion,
	}.Encode()

	for _, c := range collected {
		addr, err := transport.ResolveAddress(c.addr)
		if err != nil {
			continue
		}
		holds := peerHolds[c.addr]
		for _, blk := range canonical {
			if _, ok := holds[blk.BlockID]; ok {
				continue
			}
			body := wire.ReplicateBlockMessage{HydfsName: name, Block: blk}.Encode()
			h.send(wire.KindReplicateBlock, body, addr)
		}
		h.send(wire.KindMergeUpdate, update, addr)
	}

	log.Printf("[FileOps] - Merge %q: %d block(s), version %d, %d/%d replica(s) updated\n",
		name, len(canonical), newVersion, len(collected), len(peers))
	h.replyMerge(requester, name, true, "", newVersion)
	return true
}

func (h *Handler) replyMerge(requester *net.UDPAddr, name string, success bool, errMsg string, version uint32) {
	if requester == nil {
		return
	}
	body := wire.MergeFileResponse{
		Success:      success,
		ErrorMessage: errMsg,
		HydfsName:    name,
		NewVersion:   version,
	}.Encode()
	h.send(wire.KindMergeResponse, body, requester)
}

func clientIDToString(id uint64) string {
	return strconv.FormatUint(id, 10)
}
