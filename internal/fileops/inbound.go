package fileops

import (
	"log"
	"net"
	"strconv"

	"github.com/FraMan97/hydfs/internal/config"
	"github.com/FraMan97/hydfs/internal/model"
	"github.com/FraMan97/hydfs/internal/wire"
)

// HandleMessage is the file half of the router dispatch. Handlers never hold
// the store lock across sends: store calls fully enclose their locking and
// responses go out afterwards. Anything that must itself wait for responses
// (merge coordination) leaves the ingress worker first.
func (h *Handler) HandleMessage(kind wire.Kind, body []byte, sender *net.UDPAddr) {
	switch kind {
	case wire.KindCreateRequest:
		msg, err := wire.DecodeCreateFileRequest(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleCreateRequest(msg, sender)
	case wire.KindCreateResponse:
		msg, err := wire.DecodeCreateFileResponse(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleCreateResponse(msg)
	case wire.KindGetRequest:
		msg, err := wire.DecodeGetFileRequest(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleGetRequest(msg, sender)
	case wire.KindGetResponse:
		msg, err := wire.DecodeGetFileResponse(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleGetResponse(msg)
	case wire.KindAppendRequest:
		msg, err := wire.DecodeAppendFileRequest(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleAppendRequest(msg, sender)
	case wire.KindAppendResponse:
		msg, err := wire.DecodeAppendFileResponse(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.pending.update("append", func(op *pendingOp) {
			op.blockID = msg.BlockID
			op.complete(msg.Success, msg.ErrorMessage)
		})
	case wire.KindMergeRequest:
		msg, err := wire.DecodeMergeFileRequest(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleMergeRequest(msg, sender)
	case wire.KindMergeResponse:
		msg, err := wire.DecodeMergeFileResponse(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.pending.update("merge/"+msg.HydfsName, func(op *pendingOp) {
			op.version = msg.NewVersion
			op.complete(msg.Success, msg.ErrorMessage)
		})
	case wire.KindReplicateBlock:
		msg, err := wire.DecodeReplicateBlockMessage(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleReplicateBlock(msg, sender)
	case wire.KindReplicateAck:
		msg, err := wire.DecodeReplicateBlockMessage(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		log.Printf("[FileOps] - Replica %s acked block %d of %q\n",
			sender, msg.Block.BlockID, msg.HydfsName)
	case wire.KindLsRequest:
		msg, err := wire.DecodeLsFileRequest(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleLsRequest(msg, sender)
	case wire.KindLsResponse:
		msg, err := wire.DecodeLsFileResponse(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		for i, addr := range msg.VMAddresses {
			log.Printf("[FileOps] - File %d stored at %s (ring %d)\n",
				msg.FileID, addr, msg.RingIDs[i])
		}
	case wire.KindListStoreRequest:
		h.handleListStoreRequest(sender)
	case wire.KindListStoreResponse:
		msg, err := wire.DecodeListStoreResponse(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		for i, name := range msg.Filenames {
			log.Printf("[FileOps] - %s stores %s (id %d)\n", sender, name, msg.FileIDs[i])
		}
	case wire.KindFileExistsRequest:
		msg, err := wire.DecodeFileExistsRequest(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleFileExistsRequest(msg, sender)
	case wire.KindFileExistsResponse:
		msg, err := wire.DecodeFileExistsResponse(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleFileExistsResponse(msg, sender)
	case wire.KindCollectBlocksRequest:
		msg, err := wire.DecodeCollectBlocksRequest(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleCollectBlocksRequest(msg, sender)
	case wire.KindCollectBlocksResponse:
		msg, err := wire.DecodeCollectBlocksResponse(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleCollectBlocksResponse(msg, sender)
	case wire.KindMergeUpdate:
		msg, err := wire.DecodeMergeUpdateMessage(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.handleMergeUpdate(msg, sender)
	case wire.KindMergeUpdateAck:
		msg, err := wire.DecodeMergeUpdateAck(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		log.Printf("[FileOps] - %s applied merge of %q at version %d\n",
			sender, msg.HydfsName, msg.NewVersion)
	case wire.KindTransferFiles, wire.KindReplicateFile:
		msg, err := wire.DecodeTransferFilesMessage(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		h.store.Store(msg.Metadata, msg.Blocks)
		log.Printf("[FileOps] - Installed transferred file %q (%d block(s)) from %s\n",
			msg.Metadata.Name, len(msg.Blocks), sender)
	case wire.KindDeleteFile:
		msg, err := wire.DecodeDeleteFileMessage(body)
		if err != nil {
			h.dropDecode(kind, sender, err)
			return
		}
		if h.store.Delete(msg.HydfsName) {
			h.tracker.ClearFile(msg.HydfsName)
			log.Printf("[FileOps] - Deleted %q on request of %s\n", msg.HydfsName, sender)
		}
	case wire.KindErrorFileExists, wire.KindErrorFileNotFound, wire.KindErrorReplicaUnavailable:
		log.Printf("[FileOps] - Error notification %s from %s\n", kind, sender)
	default:
		h.decodeErrors.Add(1)
		log.Printf("[FileOps] - Unknown discriminant %d from %s, dropped\n", kind, sender)
	}
}

func (h *Handler) dropDecode(kind wire.Kind, sender *net.UDPAddr, err error) {
	h.decodeErrors.Add(1)
	log.Printf("[FileOps] - Dropped %s from %s: %v\n", kind, sender, err)
}

func (h *Handler) handleCreateRequest(msg wire.CreateFileRequest, sender *net.UDPAddr) {
	clientID := clientIDToString(msg.ClientID)
	success := h.store.Create(msg.HydfsName, msg.Data, clientID)

	resp := wire.CreateFileResponse{
		Success: success,
		FileID:  model.GenerateFileID(msg.HydfsName),
	}
	if !success {
		resp.ErrorMessage = "file already exists"
		log.Printf("[FileOps] - Create %q from %s rejected: file exists\n", msg.HydfsName, sender)
	} else {
		log.Printf("[FileOps] - Created %q (%d bytes) on request of %s\n",
			msg.HydfsName, len(msg.Data), sender)
	}
	h.send(wire.KindCreateResponse, resp.Encode(), sender)
}

func (h *Handler) handleCreateResponse(msg wire.CreateFileResponse) {
	key := "create/" + strconv.FormatUint(msg.FileID, 10)
	h.pending.update(key, func(op *pendingOp) {
		if msg.Success {
			op.acks++
		} else {
			op.failures++
			op.errMsg = msg.ErrorMessage
		}
		if op.acks+op.failures >= op.expected {
			op.complete(op.acks > 0, op.errMsg)
		}
	})
}

func (h *Handler) handleGetRequest(msg wire.GetFileRequest, sender *net.UDPAddr) {
	resp := wire.GetFileResponse{}
	// Name travels even on failure so the requester can match the response.
	resp.Metadata.Name = msg.HydfsName

	meta, exists := h.store.Metadata(msg.HydfsName)
	switch {
	case !exists:
		resp.ErrorMessage = "file not found"
	case !h.tracker.SatisfiesReadMyWrites(clientIDToString(msg.ClientID), msg.HydfsName, meta.BlockIDs):
		// We acked appends to this client that the local copy no longer
		// carries; the client must read elsewhere.
		resp.ErrorMessage = "read-my-writes not satisfiable at this replica"
	default:
		resp.Success = true
		resp.Metadata = meta
		resp.Blocks = h.store.Blocks(msg.HydfsName)
	}

	body := resp.Encode()
	if len(body)+1 > config.BufferLen {
		resp = wire.GetFileResponse{ErrorMessage: "file too large for datagram transfer"}
		resp.Metadata.Name = msg.HydfsName
		body = resp.Encode()
	}
	h.send(wire.KindGetResponse, body, sender)
	log.Printf("[FileOps] - Served GET %q to %s (success=%t)\n", msg.HydfsName, sender, resp.Success)
}

func (h *Handler) handleGetResponse(msg wire.GetFileResponse) {
	key := "get/" + msg.Metadata.Name
	h.pending.update(key, func(op *pendingOp) {
		if !msg.Success {
			op.complete(false, msg.ErrorMessage)
			return
		}
		// The replica passed its own gate; verify against this node's
		// record of acknowledged appends too.
		if !h.tracker.SatisfiesReadMyWrites(h.clientIDString(), msg.Metadata.Name, msg.Metadata.BlockIDs) {
			op.complete(false, "response misses acknowledged appends")
			return
		}

		byID := make(map[uint64]model.Block, len(msg.Blocks))
		for _, blk := range msg.Blocks {
			byID[blk.BlockID] = blk
		}
		data := make([]byte, 0, msg.Metadata.TotalSize)
		for _, id := range msg.Metadata.BlockIDs {
			if blk, ok := byID[id]; ok {
				data = append(data, blk.Data...)
			}
		}
		op.data = data
		op.complete(true, "")
	})
}

func (h *Handler) handleAppendRequest(msg wire.AppendFileRequest, sender *net.UDPAddr) {
	clientID := clientIDToString(msg.ClientID)
	block, ok := h.applyAppend(msg.HydfsName, clientID, msg.SequenceNum, msg.Data)

	resp := wire.AppendFileResponse{Success: ok, BlockID: block.BlockID}
	if !ok {
		resp.ErrorMessage = "file not found"
	}
	h.send(wire.KindAppendResponse, resp.Encode(), sender)

	if ok {
		log.Printf("[FileOps] - Appended block %d to %q for client %s\n",
			block.BlockID, msg.HydfsName, clientID)
		replicas := h.ring.Replicas(msg.HydfsName, config.ReplicationFactor)
		h.replicate(msg.HydfsName, block, replicas)
	}
}

func (h *Handler) handleMergeRequest(msg wire.MergeFileRequest, sender *net.UDPAddr) {
	replicas := h.ring.Replicas(msg.HydfsName, config.ReplicationFactor)
	if len(replicas) == 0 {
		h.replyMerge(sender, msg.HydfsName, false, "no replicas", 0)
		return
	}
	if !h.isSelf(replicas[0]) {
		// Ring views disagree; pass the request along to our coordinator.
		log.Printf("[FileOps] - Forwarding merge of %q to coordinator %s\n",
			msg.HydfsName, replicas[0].Address())
		h.sendToNode(wire.KindMergeRequest, msg.Encode(), replicas[0])
		return
	}
	// The merge waits on COLLECT_BLOCKS responses delivered by this very
	// worker, so it runs on its own goroutine.
	requester := *sender
	go h.runMerge(msg.HydfsName, &requester)
}

func (h *Handler) handleReplicateBlock(msg wire.ReplicateBlockMessage, sender *net.UDPAddr) {
	if h.store.AppendOrCreate(msg.HydfsName, msg.Block) {
		log.Printf("[FileOps] - Stored replicated block %d of %q\n",
			msg.Block.BlockID, msg.HydfsName)
		h.send(wire.KindReplicateAck, msg.Encode(), sender)
	} else {
		log.Printf("[FileOps] - Failed to store replicated block %d of %q\n",
			msg.Block.BlockID, msg.HydfsName)
	}
}

func (h *Handler) handleLsRequest(msg wire.LsFileRequest, sender *net.UDPAddr) {
	resp := wire.LsFileResponse{
		Success: true,
		FileID:  model.GenerateFileID(msg.HydfsName),
	}
	for _, replica := range h.ring.Replicas(msg.HydfsName, config.ReplicationFactor) {
		resp.VMAddresses = append(resp.VMAddresses, replica.Address())
		resp.RingIDs = append(resp.RingIDs, replica.Position())
	}
	h.send(wire.KindLsResponse, resp.Encode(), sender)
}

func (h *Handler) handleListStoreRequest(sender *net.UDPAddr) {
	resp := wire.ListStoreResponse{}
	for _, name := range h.store.List() {
		if meta, ok := h.store.Metadata(name); ok {
			resp.Filenames = append(resp.Filenames, name)
			resp.FileIDs = append(resp.FileIDs, meta.FileID)
		}
	}
	h.send(wire.KindListStoreResponse, resp.Encode(), sender)
}

func (h *Handler) handleFileExistsRequest(msg wire.FileExistsRequest, sender *net.UDPAddr) {
	resp := wire.FileExistsResponse{HydfsName: msg.HydfsName}
	if meta, ok := h.store.Metadata(msg.HydfsName); ok {
		resp.Exists = true
		resp.FileID = meta.FileID
		resp.FileSize = meta.TotalSize
		resp.Version = meta.Version
	}
	h.send(wire.KindFileExistsResponse, resp.Encode(), sender)
}

func (h *Handler) handleFileExistsResponse(msg wire.FileExistsResponse, sender *net.UDPAddr) {
	key := "ls/" + msg.HydfsName
	h.pending.update(key, func(op *pendingOp) {
		if _, seen := op.lsResponses[sender.String()]; !seen {
			op.lsResponses[sender.String()] = msg
			op.acks++
		}
		if op.acks >= op.expected {
			op.complete(true, "")
		}
	})
}

func (h *Handler) handleCollectBlocksRequest(msg wire.CollectBlocksRequest, sender *net.UDPAddr) {
	resp := wire.CollectBlocksResponse{HydfsName: msg.HydfsName}
	if meta, ok := h.store.Metadata(msg.HydfsName); ok {
		resp.Blocks = h.store.Blocks(msg.HydfsName)
		resp.Version = meta.Version
	}
	h.send(wire.KindCollectBlocksResponse, resp.Encode(), sender)
}

func (h *Handler) handleCollectBlocksResponse(msg wire.CollectBlocksResponse, sender *net.UDPAddr) {
	key := "collect/" + msg.HydfsName
	h.pending.update(key, func(op *pendingOp) {
		op.collected = append(op.collected, collectedBlocks{addr: sender.String(), resp: msg})
		op.acks++
		if op.acks >= op.expected {
			op.complete(true, "")
		}
	})
}

func (h *Handler) handleMergeUpdate(msg wire.MergeUpdateMessage, sender *net.UDPAddr) {
	canonical := make([]model.Block, 0, len(msg.MergedBlockIDs))
	missing := 0
	for _, id := range msg.MergedBlockIDs {
		if blk, ok := h.store.BlockByID(id); ok {
			canonical = append(canonical, blk)
		} else {
			missing++
		}
	}
	if missing > 0 {
		// The coordinator ships missing blocks ahead of the update; any
		// still absent were lost in flight and converge on the next merge.
		log.Printf("[FileOps] - Merge update for %q misses %d block(s) locally\n",
			msg.HydfsName, missing)
	}
	success := h.store.Merge(msg.HydfsName, canonical, msg.NewVersion)
	log.Printf("[FileOps] - Applied merge of %q: %d block(s), version %d\n",
		msg.HydfsName, len(canonical), msg.NewVersion)

	ack := wire.MergeUpdateAck{
		HydfsName:  msg.HydfsName,
		NewVersion: msg.NewVersion,
		Success:    success,
	}
	h.send(wire.KindMergeUpdateAck, ack.Encode(), sender)
}
