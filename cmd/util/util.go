package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dKVcheck/lib/common"
	"github.com/ValentinKolb/dKVcheck/lib/db"
	"github.com/ValentinKolb/dKVcheck/lib/db/engines/maple"
	"github.com/ValentinKolb/dKVcheck/lib/db/util"
	"github.com/ValentinKolb/dKVcheck/lib/store"
	"github.com/ValentinKolb/dKVcheck/lib/store/dstore"
	"github.com/ValentinKolb/dKVcheck/lib/store/lstore"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads the env files and makes viper read DKVCHECK_<flag>
// environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dkvcheck")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// SetupStoreFlags adds the flags selecting and configuring the store under test
func SetupStoreFlags(cmd *cobra.Command) {
	key := "store"
	cmd.PersistentFlags().String(key, "lstore", WrapString("The store to check (lstore, dstore). An lstore only lives as long as the process, so its phases have to run in one 'run' command"))

	key = "maple-shards"
	cmd.PersistentFlags().Int(key, 0, WrapString("Number of shards of the maple engine (0 = number of CPUs)"))

	key = "shard"
	cmd.PersistentFlags().Uint64(key, 100, WrapString("(dstore) ID of the raft shard holding the data"))

	key = "rtt-millisecond"
	cmd.PersistentFlags().Uint64(key, 100, WrapString("(dstore) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances"))

	key = "snapshot-entries"
	cmd.PersistentFlags().Uint64(key, 10000, WrapString("(dstore) SnapshotEntries defines how often the state machine should be snapshotted automatically, in applied raft log entries"))

	key = "compaction-overhead"
	cmd.PersistentFlags().Uint64(key, 5000, WrapString("(dstore) CompactionOverhead defines the number of log entries to keep after a snapshot"))

	key = "data-dir"
	cmd.PersistentFlags().String(key, "data", WrapString("(dstore) DataDir is the directory used for the raft log and snapshots"))

	key = "replica-id"
	cmd.PersistentFlags().String(key, "", WrapString("(dstore) ReplicaID is the unique identifier of this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	cmd.PersistentFlags().String(key, "", WrapString("(dstore) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	cmd.PersistentFlags().Int64(key, 5, WrapString("(dstore) Timeout of a single raft request in seconds"))
}

// SetupCheckFlags adds the flags of the data check
func SetupCheckFlags(cmd *cobra.Command) {
	key := "seed"
	cmd.PersistentFlags().Int64(key, 0, WrapString("Seed of the run. 0 lets populate generate one and makes the other phases use the seed stored by populate"))

	key = "start-block"
	cmd.PersistentFlags().Int64(key, 0, WrapString("First block of the run"))

	key = "blocks"
	cmd.PersistentFlags().Int64(key, 4, WrapString("Number of blocks of the run"))

	key = "indices-per-block"
	cmd.PersistentFlags().Int64(key, 0, WrapString("Number of indices executed per block (0 = all 32768)"))

	key = "threads"
	cmd.PersistentFlags().Int(key, 4, WrapString("Number of exercise thread pairs"))

	key = "max-lag"
	cmd.PersistentFlags().Int64(key, 32768, WrapString("Largest lag the exercise phase accepts"))

	key = "block-timeout"
	cmd.PersistentFlags().Duration(key, time.Minute, WrapString("How long the first thread of a pair waits for the other at the end of a block"))

	key = "request-timeout"
	cmd.PersistentFlags().Duration(key, 30*time.Second, WrapString("How long a failing store request is retried"))

	key = "max-execution-time"
	cmd.PersistentFlags().Duration(key, 0, WrapString("Stop the run after this time (0 = unlimited)"))

	key = "fail-fast"
	cmd.PersistentFlags().Bool(key, false, WrapString("Stop at the first unexpected result"))

	key = "read-back"
	cmd.PersistentFlags().Bool(key, true, WrapString("Read every key back after updating it"))

	key = "status-endpoint"
	cmd.PersistentFlags().String(key, "", WrapString("Address of the HTTP status endpoint (e.g. localhost:9090), empty to disable"))
}

// --------------------------------------------------------------------------
// Config
// --------------------------------------------------------------------------

// GetCheckConfig reads the check configuration from viper
func GetCheckConfig() common.CheckConfig {
	return common.CheckConfig{
		Seed:             viper.GetInt64("seed"),
		StartBlock:       viper.GetInt64("start-block"),
		Blocks:           viper.GetInt64("blocks"),
		IndicesPerBlock:  viper.GetInt64("indices-per-block"),
		Threads:          viper.GetInt("threads"),
		MaxLag:           viper.GetInt64("max-lag"),
		BlockTimeout:     viper.GetDuration("block-timeout"),
		RequestTimeout:   viper.GetDuration("request-timeout"),
		MaxExecutionTime: viper.GetDuration("max-execution-time"),
		FailFast:         viper.GetBool("fail-fast"),
		ReadBack:         viper.GetBool("read-back"),
		LogLevel:         viper.GetString("log-level"),
		StatusEndpoint:   viper.GetString("status-endpoint"),
	}
}

// GetStoreConfig reads the store configuration from viper
func GetStoreConfig() (*common.StoreConfig, error) {
	conf := &common.StoreConfig{
		Kind:               common.StoreKind(viper.GetString("store")),
		Shards:             viper.GetInt("maple-shards"),
		ShardID:            viper.GetUint64("shard"),
		RTTMillisecond:     viper.GetUint64("rtt-millisecond"),
		SnapshotEntries:    viper.GetUint64("snapshot-entries"),
		CompactionOverhead: viper.GetUint64("compaction-overhead"),
		DataDir:            viper.GetString("data-dir"),
		TimeoutSecond:      viper.GetInt64("timeout"),
	}

	if conf.Kind == common.StoreKindDistributed {
		id := viper.GetString("replica-id")
		if id == "" {
			return nil, fmt.Errorf("replica-id is required for a dstore")
		}
		conf.ReplicaID = uint64(util.HashString(id, 0))

		members := viper.GetString("cluster-members")
		if members == "" {
			return nil, fmt.Errorf("cluster-members is required for a dstore")
		}
		conf.ClusterMembers = make(map[uint64]string)
		for _, member := range strings.Split(members, ",") {
			parts := strings.Split(member, "=")
			if len(parts) != 2 {
				return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			conf.ClusterMembers[uint64(util.HashString(parts[0], 0))] = parts[1]
		}
	}

	return conf, conf.Validate()
}

// OpenStore creates the store described by conf. The returned function
// releases the store.
func OpenStore(conf *common.StoreConfig) (store.IStore, func(), error) {
	dbFactory := func() db.KVDB {
		return maple.NewMapleDB(&maple.DBOptions{NumShards: conf.Shards})
	}

	switch conf.Kind {
	case common.StoreKindLocal:
		return lstore.NewLocalStore(dbFactory), func() {}, nil
	case common.StoreKindDistributed:
		nodeHost, err := dragonboat.NewNodeHost(conf.ToNodeHostConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create node host: %w", err)
		}
		if err := nodeHost.StartConcurrentReplica(conf.ClusterMembers, false, dstore.CreateStateMaschineFactory(dbFactory), conf.ToDragonboatConfig()); err != nil {
			nodeHost.Close()
			return nil, nil, fmt.Errorf("failed to start shard %d: %w", conf.ShardID, err)
		}
		timeout := time.Duration(conf.TimeoutSecond) * time.Second
		return dstore.NewDistributedStore(nodeHost, conf.ShardID, timeout), nodeHost.Close, nil
	default:
		return nil, nil, fmt.Errorf("invalid store %s", conf.Kind)
	}
}
