package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/omnix-ai/omnixd/pkg/client"
)

// defaultAPIUrl is where a local 'omnixd serve' listens unless configured
// otherwise.
const defaultAPIUrl = "http://127.0.0.1:9001"

// command groups the CLI operations that talk to a running daemon.
type command struct{}

// dial builds a client for the daemon and verifies it answers.
func (c command) dial(apiUrl string, timeout time.Duration) (*client.Client, error) {
	if apiUrl == "" {
		apiUrl = defaultAPIUrl
	}
	cl := client.New(client.Config{BaseURL: apiUrl, Timeout: timeout})
	if !cl.IsReachable(context.Background()) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'omnixd serve'", apiUrl)
	}
	return cl, nil
}

// Status prints service statuses, one service or the whole stack.
func (c command) Status(f StatusFlags) error {
	cl, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if f.Report {
		rep, err := cl.Report(ctx)
		if err != nil {
			if errors.Is(err, client.ErrNoReport) {
				fmt.Println("no startup attempted yet")
				return nil
			}
			return err
		}
		printJSON(rep)
		return nil
	}

	if f.Name != "" {
		st, err := cl.Status(ctx, f.Name)
		if err != nil {
			return err
		}
		printJSON(st)
		return nil
	}

	sts, err := cl.StatusAll(ctx)
	if err != nil {
		return err
	}
	printJSON(sts)
	return nil
}

// Start starts one service via the daemon and prints the result.
func (c command) Start(f ServiceFlags) error {
	cl, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	res, err := cl.Start(context.Background(), f.Name)
	if err != nil {
		return err
	}
	fmt.Printf("Service '%s' %s (pid %d)\n", res.Name, res.State, res.PID)
	return nil
}

// Stop stops one service via the daemon.
func (c command) Stop(f ServiceFlags) error {
	cl, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	if err := cl.Stop(context.Background(), f.Name); err != nil {
		return err
	}
	fmt.Printf("Service '%s' stopped\n", f.Name)
	return nil
}

// Restart restarts one service via the daemon and prints the result.
func (c command) Restart(f ServiceFlags) error {
	cl, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	res, err := cl.Restart(context.Background(), f.Name)
	if err != nil {
		return err
	}
	fmt.Printf("Service '%s' %s (pid %d)\n", res.Name, res.State, res.PID)
	return nil
}

// Down stops every running service in reverse launch order via the daemon.
// The daemon stays up; a full daemon exit is a signal to the serve process.
func (c command) Down(f DownFlags) error {
	cl, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	ctx := context.Background()

	sts, err := cl.StatusAll(ctx)
	if err != nil {
		return err
	}

	stopped := 0
	var firstErr error
	for i := len(sts) - 1; i >= 0; i-- {
		st := sts[i]
		if !isRunningState(st.State) {
			continue
		}
		if err := cl.Stop(ctx, st.Name); err != nil {
			fmt.Printf("Warning: failed to stop %s: %v\n", st.Name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fmt.Printf("Stopped %s\n", st.Name)
		stopped++
	}
	fmt.Printf("Stack down: %d service(s) stopped\n", stopped)
	return firstErr
}

// isRunningState reports whether a status string names a state with a live
// process behind it.
func isRunningState(state string) bool {
	switch state {
	case "starting", "healthy", "unhealthy":
		return true
	}
	return false
}
