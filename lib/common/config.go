package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
	"github.com/ValentinKolb/dKVcheck/lib/check/oracle"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the StoreConfig to a Dragonboat shard Config
func (c *StoreConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,  // = c.RTTMillisecond * 10
		HeartbeatRTT:       heartbeatRTTFactor, // = c.RTTMillisecond * 1
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *StoreConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Store configuration
// --------------------------------------------------------------------------

type StoreKind string

const (
	StoreKindLocal       StoreKind = "lstore"
	StoreKindDistributed StoreKind = "dstore"
)

// StoreConfig holds the parameters of the store the check runs against.
type StoreConfig struct {
	Kind StoreKind

	// maple parameters
	Shards int

	// Dragonboat parameters (dstore only)
	ShardID            uint64
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// request timeout of the distributed store
	TimeoutSecond int64
}

// Validate checks the configuration for obvious mistakes
func (c *StoreConfig) Validate() error {
	switch c.Kind {
	case StoreKindLocal:
		return nil
	case StoreKindDistributed:
		if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
			return errors.Newf("replica %d is not a cluster member", c.ReplicaID)
		}
		if c.TimeoutSecond <= 0 {
			return errors.Newf("timeout must be positive, got %d", c.TimeoutSecond)
		}
		return nil
	default:
		return errors.Newf("unknown store kind %q, must be one of %s, %s", c.Kind, StoreKindLocal, StoreKindDistributed)
	}
}

// String returns a formatted string representation of the configuration
func (c *StoreConfig) String() string {
	var sb strings.Builder
	addSection, addField := formatters(&sb)

	addSection("Store")
	addField("Kind", string(c.Kind))
	addField("Maple Shards", strconv.Itoa(c.Shards))

	if c.Kind == StoreKindDistributed {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))
		addField("Shard ID", strconv.FormatUint(c.ShardID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
		addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

		// Storage
		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Check configuration
// --------------------------------------------------------------------------

// CheckConfig holds the parameters of a data check run.
type CheckConfig struct {
	// Seed of the run, 0 means "generate" for populate and "load from the store" otherwise
	Seed int64

	// index range: Blocks blocks starting at StartBlock, IndicesPerBlock
	// indices of each (0 = whole blocks)
	StartBlock      int64
	Blocks          int64
	IndicesPerBlock int64

	// number of thread pairs of the exercise phase
	Threads int

	// largest lag the exercise phase accepts
	MaxLag int64

	BlockTimeout     time.Duration
	RequestTimeout   time.Duration
	MaxExecutionTime time.Duration // 0 = unlimited

	FailFast bool
	ReadBack bool

	LogLevel string

	// address of the status endpoint, empty to disable
	StatusEndpoint string
}

// Bounds returns the indices the run executes
func (c *CheckConfig) Bounds() oracle.Bounds {
	return oracle.Bounds{
		Start:    c.StartBlock * keynum.BlockCount,
		End:      (c.StartBlock + c.Blocks) * keynum.BlockCount,
		PerBlock: c.IndicesPerBlock,
	}
}

// Validate checks the configuration for obvious mistakes
func (c *CheckConfig) Validate() error {
	switch {
	case c.StartBlock < 0:
		return errors.Newf("start block must not be negative, got %d", c.StartBlock)
	case c.Blocks <= 0:
		return errors.Newf("block count must be positive, got %d", c.Blocks)
	case c.StartBlock > keynum.MaxIndex/keynum.BlockCount-c.Blocks:
		return errors.Newf("blocks %d..%d exceed the index space", c.StartBlock, c.StartBlock+c.Blocks)
	case c.IndicesPerBlock < 0 || c.IndicesPerBlock > keynum.BlockCount:
		return errors.Newf("indices per block must be in [0, %d], got %d", keynum.BlockCount, c.IndicesPerBlock)
	case c.Threads <= 0:
		return errors.Newf("thread pairs must be positive, got %d", c.Threads)
	case c.MaxLag < 0:
		return errors.Newf("max lag must not be negative, got %d", c.MaxLag)
	case c.BlockTimeout <= 0 || c.RequestTimeout <= 0:
		return errors.New("block and request timeout must be positive")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *CheckConfig) String() string {
	var sb strings.Builder
	addSection, addField := formatters(&sb)

	bounds := c.Bounds()
	seed := "from store"
	if c.Seed != 0 {
		seed = fmt.Sprintf("%#x", c.Seed)
	}
	perBlock := "all"
	if c.IndicesPerBlock > 0 {
		perBlock = strconv.FormatInt(c.IndicesPerBlock, 10)
	}
	maxExec := "unlimited"
	if c.MaxExecutionTime > 0 {
		maxExec = c.MaxExecutionTime.String()
	}
	status := "disabled"
	if c.StatusEndpoint != "" {
		status = c.StatusEndpoint
	}

	addSection("Check")
	addField("Seed", seed)
	addField("Blocks", fmt.Sprintf("%d..%d", c.StartBlock, c.StartBlock+c.Blocks))
	addField("Indices", fmt.Sprintf("%#x..%#x", bounds.Start, bounds.End))
	addField("Indices per Block", perBlock)
	addField("Thread Pairs", strconv.Itoa(c.Threads))
	addField("Max Lag", strconv.FormatInt(c.MaxLag, 10))
	addField("Read Back", fmt.Sprintf("%t", c.ReadBack))
	addField("Fail Fast", fmt.Sprintf("%t", c.FailFast))

	addSection("Timeouts")
	addField("Block", c.BlockTimeout.String())
	addField("Request", c.RequestTimeout.String())
	addField("Max Execution Time", maxExec)

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Status Endpoint", status)

	return sb.String()
}

// formatters returns helper functions for consistent formatting
func formatters(sb *strings.Builder) (func(string), func(string, string)) {
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}
	return addSection, addField
}
