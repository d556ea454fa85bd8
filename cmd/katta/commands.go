package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/katta-cluster/katta/internal/cluster"
	"github.com/katta-cluster/katta/internal/query"
	"github.com/katta-cluster/katta/internal/store"
	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/errors"
	"github.com/katta-cluster/katta/pkg/metrics"
	pkgredis "github.com/katta-cluster/katta/pkg/redis"
)

// cliEnv carries the dependencies every subcommand needs. Commands never
// hold onto it past their single invocation.
type cliEnv struct {
	ctx     context.Context
	cfg     *config.Config
	adapter *store.Adapter
	out     io.Writer
}

type commandFunc func(env *cliEnv, args []string) error

var commands = map[string]commandFunc{
	"addIndex":      cmdAddIndex,
	"removeIndex":   cmdRemoveIndex,
	"redeployIndex": cmdRedeployIndex,
	"listIndexes":   cmdListIndexes,
	"listNodes":     cmdListNodes,
	"listErrors":    cmdListErrors,
	"showStructure": cmdShowStructure,
	"search":        cmdSearch,
}

// cmdAddIndex declares a new index. Its shard set is derived once, here,
// by enumerating the immediate subdirectories of path — one shard per
// subdirectory — and is immutable from this point on; building the
// shard data itself is the job of the index-build pipeline that produced
// those subdirectories, not this command.
func cmdAddIndex(env *cliEnv, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("%w: usage: addIndex <name> <path> <analyzer> [replication]", errors.ErrInvalidInput)
	}
	name, path, analyzer := args[0], args[1], args[2]
	replication := 1
	if len(args) >= 4 {
		n, err := strconv.Atoi(args[3])
		if err != nil || n < 1 {
			return fmt.Errorf("%w: replication must be a positive integer", errors.ErrInvalidInput)
		}
		replication = n
	}

	exists, err := env.adapter.Exists(env.ctx, cluster.IndexPath(name))
	if err != nil {
		return err
	}
	if exists {
		fmt.Fprintf(env.out, "index %s already exists, no-op\n", name)
		return nil
	}

	shards, err := discoverShards(path)
	if err != nil {
		return err
	}
	if len(shards) == 0 {
		return fmt.Errorf("%w: %s has no shard subdirectories", errors.ErrInvalidInput, path)
	}

	idx := cluster.Index{
		Name:             name,
		Path:             path,
		Analyzer:         analyzer,
		ReplicationLevel: replication,
		State:            cluster.IndexAnnounced,
		Shards:           shards,
	}
	return writeIndexDescriptor(env, &idx)
}

func discoverShards(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading index source path %s: %v", errors.ErrInvalidInput, path, err)
	}
	var shards []string
	for _, e := range entries {
		if e.IsDir() {
			shards = append(shards, e.Name())
		}
	}
	sort.Strings(shards)
	return shards, nil
}

func writeIndexDescriptor(env *cliEnv, idx *cluster.Index) error {
	for _, shard := range idx.Shards {
		shardDesc := cluster.Shard{
			Name:      shard,
			IndexName: idx.Name,
			ShardPath: idx.Path + "/" + shard,
		}
		data, err := json.Marshal(shardDesc)
		if err != nil {
			return err
		}
		if _, err := env.adapter.Create(env.ctx, cluster.IndexShardPath(idx.Name, shard), data, store.Persistent); err != nil && !stderrors.Is(err, errors.ErrAlreadyExists) {
			return err
		}
	}
	data, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	if _, err := env.adapter.Create(env.ctx, cluster.IndexPath(idx.Name), data, store.Persistent); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "index %s declared with %d shard(s)\n", idx.Name, len(idx.Shards))
	return nil
}

// cmdRemoveIndex deletes an index's descriptor and every shard descriptor
// beneath it. Removing an absent index changes nothing but returns
// ErrNotFound, so the CLI exits non-zero and the operator notices the no-op.
func cmdRemoveIndex(env *cliEnv, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: usage: removeIndex <name>", errors.ErrInvalidInput)
	}
	name := args[0]
	exists, err := env.adapter.Exists(env.ctx, cluster.IndexPath(name))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: index %s does not exist, no-op", errors.ErrNotFound, name)
	}
	if err := env.adapter.DeleteRecursive(env.ctx, cluster.IndexPath(name)); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "index %s removed\n", name)
	return nil
}

// cmdRedeployIndex forces a clean redeploy: it re-declares the index's
// descriptor and shard descriptors from scratch (shards are immutable,
// so this changes nothing about them), which causes the delete-then-add
// the active Master observes on its index-children watch to drive a
// fresh placement pass.
func cmdRedeployIndex(env *cliEnv, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: usage: redeployIndex <name>", errors.ErrInvalidInput)
	}
	name := args[0]
	data, _, err := env.adapter.Read(env.ctx, cluster.IndexPath(name))
	if err != nil {
		return err
	}
	var idx cluster.Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}

	if err := env.adapter.DeleteRecursive(env.ctx, cluster.IndexPath(name)); err != nil {
		return err
	}

	idx.State = cluster.IndexAnnounced
	idx.ErrorMessage = ""
	if err := writeIndexDescriptor(env, &idx); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "index %s marked for redeploy\n", name)
	return nil
}

func cmdListIndexes(env *cliEnv, args []string) error {
	names, err := env.adapter.Children(env.ctx, cluster.IndexesPath)
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		data, _, err := env.adapter.Read(env.ctx, cluster.IndexPath(name))
		if err != nil {
			continue
		}
		var idx cluster.Index
		if err := json.Unmarshal(data, &idx); err != nil {
			continue
		}
		fmt.Fprintf(env.out, "%s\t%s\tshards=%d\treplication=%d\n", idx.Name, idx.State, len(idx.Shards), idx.ReplicationLevel)
	}
	return nil
}

func cmdListNodes(env *cliEnv, args []string) error {
	names, err := env.adapter.Children(env.ctx, cluster.NodesPath)
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		data, _, err := env.adapter.Read(env.ctx, cluster.NodePath(name))
		if err != nil {
			continue
		}
		var info cluster.NodeInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		fmt.Fprintf(env.out, "%s\t%s\thealthy=%t\tstatus=%s\n", info.Name, info.Addr(), info.Healthy, info.Status)
	}
	return nil
}

// cmdListErrors reports an index's own error message plus any shard
// replica that is currently in the ERROR state.
func cmdListErrors(env *cliEnv, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: usage: listErrors <name>", errors.ErrInvalidInput)
	}
	name := args[0]
	data, _, err := env.adapter.Read(env.ctx, cluster.IndexPath(name))
	if err != nil {
		return err
	}
	var idx cluster.Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	if idx.State == cluster.IndexDeployError {
		fmt.Fprintf(env.out, "index\t%s\t%s\n", idx.Name, idx.ErrorMessage)
	}
	for _, shard := range idx.Shards {
		nodes, err := env.adapter.Children(env.ctx, cluster.ShardReplicasPath(shard))
		if err != nil {
			continue
		}
		for _, node := range nodes {
			rdata, _, err := env.adapter.Read(env.ctx, cluster.ShardReplicaPath(shard, node))
			if err != nil {
				continue
			}
			var dep cluster.DeployedShard
			if err := json.Unmarshal(rdata, &dep); err != nil {
				continue
			}
			if dep.State == cluster.DeployError {
				fmt.Fprintf(env.out, "shard\t%s\t%s\t%s\n", shard, node, dep.ErrorMessage)
			}
		}
	}
	return nil
}

// cmdShowStructure renders the full index/shard/replica placement tree
// directly from the store, so an operator can run it without network
// access to whichever node currently holds the Master election.
func cmdShowStructure(env *cliEnv, args []string) error {
	names, err := env.adapter.Children(env.ctx, cluster.IndexesPath)
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		data, _, err := env.adapter.Read(env.ctx, cluster.IndexPath(name))
		if err != nil {
			continue
		}
		var idx cluster.Index
		if err := json.Unmarshal(data, &idx); err != nil {
			continue
		}
		fmt.Fprintf(env.out, "%s [%s]\n", idx.Name, idx.State)
		for _, shard := range idx.Shards {
			nodes, err := env.adapter.Children(env.ctx, cluster.ShardReplicasPath(shard))
			if err != nil {
				continue
			}
			sort.Strings(nodes)
			states := make([]string, 0, len(nodes))
			for _, node := range nodes {
				rdata, _, err := env.adapter.Read(env.ctx, cluster.ShardReplicaPath(shard, node))
				if err != nil {
					continue
				}
				var dep cluster.DeployedShard
				if err := json.Unmarshal(rdata, &dep); err != nil {
					continue
				}
				states = append(states, fmt.Sprintf("%s=%s", node, dep.State))
			}
			fmt.Fprintf(env.out, "  %s\t%s\n", shard, strings.Join(states, ", "))
		}
	}
	return nil
}

// cmdSearch bootstraps a throwaway Query Coordinator over the live shard
// map and issues one query. indexNames is a comma-separated list; only
// the first is used today (spec.md's query surface is single-index).
func cmdSearch(env *cliEnv, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: usage: search <indexNames> \"<query>\" [count]", errors.ErrInvalidInput)
	}
	index := strings.Split(args[0], ",")[0]
	queryStr := args[1]
	limit := 0
	if len(args) >= 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n < 1 {
			return fmt.Errorf("%w: count must be a positive integer", errors.ErrInvalidInput)
		}
		limit = n
	}

	shardMap := query.NewShardMap(env.adapter)
	ctx, cancel := context.WithCancel(env.ctx)
	defer cancel()
	shardMap.Start(ctx)
	if err := waitForIndex(ctx, shardMap, index); err != nil {
		return err
	}

	m := metrics.New()
	coord := query.NewCoordinator(shardMap, env.cfg.Query, m)
	defer coord.Close()
	if env.cfg.Redis.Addr != "" {
		if client, err := pkgredis.NewClient(env.cfg.Redis); err == nil {
			coord.SetCache(query.NewResultCache(client, env.cfg.Redis))
		}
	}

	result, err := coord.Search(env.ctx, index, queryStr, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "%d total hit(s)\n", result.TotalHits)
	for _, hit := range result.Hits {
		fmt.Fprintf(env.out, "%s\t%.4f\t%v\n", hit.DocID, hit.Score, hit.Fields)
	}
	return nil
}

// waitForIndex polls the shard map briefly for index to appear, since the
// map is populated asynchronously from store watches set up by Start.
func waitForIndex(ctx context.Context, sm *query.ShardMap, index string) error {
	deadline := time.Now().Add(3 * time.Second)
	for {
		if shards, ok := sm.ShardsForIndex(index); ok && len(shards) > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: index %s not visible in shard map after waiting", errors.ErrNotFound, index)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
