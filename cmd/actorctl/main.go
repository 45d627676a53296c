// Command actorctl is the spec's test-fixture CLI (spec §6): a small demo
// driver that either runs as a server (spawns one actor and publishes it
// on a port) or, given run=remote_actor, connects to that server and
// exercises a remote ping/pong round trip. It is not part of the module's
// public contract — real programs import runtime/actor/transport directly.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/markInTheAbyss/actorhub/actor"
	"github.com/markInTheAbyss/actorhub/actor/pattern"
	"github.com/markInTheAbyss/actorhub/payload"
	"github.com/markInTheAbyss/actorhub/runtime"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "actorctl [key=value ...]",
		Short: "actorhub demo driver",
		Long: "actorctl spawns a ping/pong actor and publishes it on a port, " +
			"or, given run=remote_actor port=<port>, connects to one and pings it.",
		RunE: runDemo,
	}
	flags := root.Flags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flags.Lookup("verbose").NoOptDefVal = "true" // a bare -v, no =true needed

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "actorctl:", err)
		os.Exit(1)
	}
}

// parseKV mirrors the original fixture's get_kv_pairs: each positional
// argument must be key=value; a duplicate key is reported but not fatal.
func parseKV(args []string) map[string]string {
	out := make(map[string]string, len(args))
	for _, a := range args {
		kv := strings.SplitN(a, "=", 2)
		if len(kv) != 2 {
			fmt.Fprintf(os.Stderr, "%q is not a key-value pair\n", a)
			continue
		}
		if _, dup := out[kv[0]]; dup {
			fmt.Fprintf(os.Stderr, "key %q is already defined\n", kv[0])
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}

func runDemo(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)

	kv := parseKV(args)
	if kv["run"] == "remote_actor" {
		return runClient(kv, logger)
	}
	return runServer(kv, logger)
}

const (
	pingAtom = uint32(1)
	pongAtom = uint32(2)
)

func pingPattern() pattern.Pattern { return pattern.New(pattern.AtomEq(pingAtom)) }
func pongPattern() pattern.Pattern { return pattern.New(pattern.AtomEq(pongAtom)) }

func runServer(kv map[string]string, logger zerolog.Logger) error {
	port := 4242
	if p, ok := kv["port"]; ok {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("actorctl: bad port %q: %w", p, err)
		}
		port = n
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	var rt *runtime.Runtime
	var err error
	for {
		rt, err = runtime.New(runtime.WithLogger(logger), runtime.WithListen(addr))
		if err == nil {
			break
		}
		port++
		addr = fmt.Sprintf("127.0.0.1:%d", port)
		logger.Warn().Err(err).Str("next_addr", addr).Msg("bind failed, trying next port")
	}
	logger.Info().Str("addr", addr).Msg("published pong actor")

	ref := rt.Scheduler.Spawn(func(ctx *actor.Context) {
		ctx.Become(actor.MustExpression(
			actor.On(pingPattern(), func(ctx *actor.Context, bindings []payload.Element) {
				_ = ctx.Reply(payload.AtomElement(pongAtom))
			}),
		))
	})
	if err := rt.PublishActor(ref); err != nil {
		return fmt.Errorf("actorctl: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	rt.Shutdown()
	return nil
}

func runClient(kv map[string]string, logger zerolog.Logger) error {
	portStr, ok := kv["port"]
	if !ok {
		return fmt.Errorf("actorctl: run=remote_actor requires port=<u16>")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("actorctl: bad port %q: %w", portStr, err)
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	rt, err := runtime.New(runtime.WithLogger(logger))
	if err != nil {
		return err
	}
	defer rt.Scheduler.Shutdown()

	serv, ok := dialAndResolve(rt, addr, logger)
	if !ok {
		return fmt.Errorf("actorctl: could not resolve remote actor at %s", addr)
	}
	// remote_actor is supposed to return the same ref for repeated
	// resolution of the same (host, port, pid): dial again and compare.
	serv2, ok2 := dialAndResolve(rt, addr, logger)
	if !ok2 || !actor.RefEqual(serv, serv2) {
		logger.Error().Msg("repeated remote_actor resolution did not return an equal ref")
	}

	done := make(chan struct{})
	rt.Scheduler.Spawn(func(ctx *actor.Context) {
		h, err := ctx.SyncSend(serv, payload.AtomElement(pingAtom))
		if err != nil {
			logger.Error().Err(err).Msg("ping send failed")
			close(done)
			ctx.Quit(actor.ExitNormal)
			return
		}
		_ = h.Then(
			actor.On(pongPattern(), func(ctx *actor.Context, bindings []payload.Element) {
				logger.Info().Msg("received pong")
				close(done)
				ctx.Quit(actor.ExitNormal)
			}),
			actor.After(5*time.Second, func(ctx *actor.Context) {
				logger.Error().Msg("timed out waiting for pong")
				close(done)
				ctx.Quit(actor.ExitUnhandledException)
			}),
		)
	})

	<-done
	rt.Scheduler.AwaitAllOthersDone()
	return nil
}

func dialAndResolve(rt *runtime.Runtime, addr string, logger zerolog.Logger) (actor.Ref, bool) {
	ref, err := rt.RemoteActor(addr, 5*time.Second)
	if err != nil {
		logger.Error().Err(err).Str("addr", addr).Msg("remote_actor failed")
		return nil, false
	}
	return ref, true
}
