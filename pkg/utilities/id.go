package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewState returns an unguessable value for the OAuth2 `state` parameter.
// KSUIDs carry 128 bits of crypto/rand payload after the timestamp.
func NewState() string {
	return NewKSUID()
}

// NewSnowflakeID generates a snowflake ID using a node ID from the
// environment variable SNOWFLAKE_NODE (default 1).
func NewSnowflakeID() int64 {
	nodeEnv := os.Getenv("SNOWFLAKE_NODE")
	if nodeEnv == "" {
		return NewSnowflakeIDWithNode(1)
	}
	nodeID, err := strconv.ParseInt(nodeEnv, 10, 64)
	if err != nil {
		return NewSnowflakeIDWithNode(1)
	}
	return NewSnowflakeIDWithNode(nodeID)
}

var (
	nodesMu sync.Mutex
	nodes   = map[int64]*snowflake.Node{}
)

// NewSnowflakeIDWithNode generates a snowflake ID using the provided node ID.
// Nodes are cached so the per-millisecond sequence is shared between calls.
// An out of range node falls back to node 1.
func NewSnowflakeIDWithNode(nodeID int64) int64 {
	nodesMu.Lock()
	defer nodesMu.Unlock()
	node, ok := nodes[nodeID]
	if !ok {
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			nodeID = 1
			if n, ok = nodes[1]; !ok {
				n, _ = snowflake.NewNode(1)
			}
		}
		nodes[nodeID] = n
		node = n
	}
	return node.Generate().Int64()
}
