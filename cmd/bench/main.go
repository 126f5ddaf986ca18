// Command bench fires repeated stats probes at one storage server and reports
// throughput and the failure breakdown. Useful for sizing max_in_flight and
// probe_timeout before pointing the monitor at a whole network.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ryandielhenn/swarmwatch/pkg/probe"
	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:22021", "storage server host:port")
	n := flag.Int("n", 1000, "probes")
	conc := flag.Int("c", 32, "concurrency")
	timeout := flag.Duration("timeout", probe.DefaultTimeout, "per-probe timeout")
	scheme := flag.String("scheme", "https", "http or https")
	flag.Parse()

	host, port, err := net.SplitHostPort(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -addr:", err)
		os.Exit(2)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad port:", err)
		os.Exit(2)
	}
	target := snode.Descriptor{PublicIP: host, StoragePort: uint16(p), PubkeyEd25519: "bench"}
	client := probe.NewClient(*timeout, probe.WithScheme(*scheme))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ok     int
		failed = map[probe.Kind]int{}
	)
	ch := make(chan struct{}, *conc)
	start := time.Now()

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-ch }()
			_, err := client.Probe(context.Background(), target)
			mu.Lock()
			if err != nil {
				failed[probe.KindOf(err)]++
			} else {
				ok++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	dur := time.Since(start)

	fmt.Printf("Completed %d probes in %s (%.2f probes/s)\n", *n, dur, float64(*n)/dur.Seconds())
	fmt.Printf("  online: %d\n", ok)
	for kind, c := range failed {
		fmt.Printf("  %s failures: %d\n", kind, c)
	}
}
