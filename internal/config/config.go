package config

import "time"

const (
	// ReplicationFactor is the number of ring successors that store each file.
	ReplicationFactor = 3

	// BufferLen is the maximum UDP datagram this node sends or receives.
	BufferLen = 64 * 1024

	CreateTimeout = 5 * time.Second
	GetTimeout    = 5 * time.Second
	AppendTimeout = 5 * time.Second
	LsTimeout     = 3 * time.Second
	MergeTimeout  = 30 * time.Second

	// CollectTimeout bounds the coordinator's wait for COLLECT_BLOCKS
	// responses inside a merge; it must leave room inside MergeTimeout.
	CollectTimeout = 5 * time.Second

	// IngressIdleSleep is how long the ingress worker parks when the socket
	// has no data.
	IngressIdleSleep = 10 * time.Millisecond

	// MembershipTick drives the failure-detection rounds.
	MembershipTick = 1 * time.Second

	// PingTimeout is how long a pinged node has to answer before it is
	// suspected (or declared dead when suspicion is off).
	PingTimeout = 2 * time.Second

	// SuspectTimeout is how long a suspected node has to refute before it is
	// declared dead.
	SuspectTimeout = 4 * time.Second

	// CleanupTimeout is how long dead and left entries linger before removal.
	CleanupTimeout = 6 * time.Second

	// GossipFanout is how many random members each round talks to.
	GossipFanout = 3
)

var (
	StorageDir = "storage"
	SeedDir    = "test_files"
	CacheDir   = "cache"
	LogDir     = "logs"

	IntroducerHost = "localhost"
	IntroducerPort = "12345"
)
