// Command bolt runs BOLT's terminal REPL: a thin driving surface that
// delegates slash commands to the Core facade and everything else to the
// Turn Executor (spec.md §1, §6 — the REPL itself is an external
// collaborator; only the operations it calls are specified).
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	bolt "github.com/Jamescode-cpt/bolt"
	"github.com/Jamescode-cpt/bolt/internal/config"
	"github.com/Jamescode-cpt/bolt/provider/local"
	"github.com/Jamescode-cpt/bolt/provider/remote"
	"github.com/Jamescode-cpt/bolt/store/sqlite"
	"github.com/Jamescode-cpt/bolt/tools/files"
	"github.com/Jamescode-cpt/bolt/tools/plugin"
	"github.com/Jamescode-cpt/bolt/tools/pyexec"
	"github.com/Jamescode-cpt/bolt/tools/shell"
	"github.com/Jamescode-cpt/bolt/workers"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := config.Load(os.Getenv("BOLT_CONFIG"))

	store := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}

	sandbox := bolt.NewSandbox(cfg.Sandbox.Home)
	tools := newToolRegistry(cfg, sandbox, logger)

	localClient := local.New(cfg.Local.BaseURL, local.WithLogger(logger), local.WithModelResolver(cfg))
	var remoteClient *remote.Client
	if cfg.Cloud.APIKey != "" {
		remoteClient = remote.New(cfg.Cloud.APIKey, cfg.Cloud.Model, cfg.Cloud.BaseURL)
	}
	gw := newGateway(cfg, localClient, remoteClient)

	router := bolt.NewRouter(gw)
	identity := bolt.NewIdentityBuilder(store)
	assembler := bolt.NewContextAssembler(store, identity,
		bolt.WithMaxContextTokens(cfg.Context.MaxTokens),
		bolt.WithRecentWindow(cfg.Context.RecentWindow),
	)
	mode := bolt.NewModeState()
	turn := bolt.NewTurnExecutor(store, router, assembler, tools, gw, mode)

	pipeline := bolt.NewPipeline(store, gw, gw, gw, sandbox, mode, bolt.WithPipelineLogger(logger))

	sessionID := bolt.NewID()
	core := bolt.NewCore(store, mode, tools, pipeline, sessionID)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	summarizer := workers.NewSummarizer(store, gw, bolt.ModelFastCode, sessionID,
		workers.WithSummarizerInterval(time.Duration(cfg.Workers.SummarizerIntervalSeconds)*time.Second),
		workers.WithSummarizerThreshold(cfg.Workers.SummarizerThresholdMessages),
		workers.WithSummarizerLogger(logger),
	)
	go summarizer.Run(workerCtx)

	taskTracker := workers.NewTaskTracker(store, gw, bolt.ModelFastCode)
	profileLearner := workers.NewProfileLearner(store, gw, bolt.ModelFastCode, cfg.Workers.ProfileLearnerEveryNTurns)

	heartbeat := workers.NewHeartbeat(gw,
		[]string{cfg.ModelName(string(bolt.ModelRouter)), cfg.ModelName(string(bolt.ModelCompanion))},
		workers.WithHeartbeatInterval(time.Duration(cfg.Workers.HeartbeatIntervalSeconds)*time.Second),
		workers.WithHeartbeatLogger(logger),
	)
	go heartbeat.Run(workerCtx)

	fmt.Println("BOLT ready. Type /help for commands, or just start chatting.")
	runREPL(ctx, core, turn, taskTracker, profileLearner, gw)

	summarizer.Stop()
	if err := core.SaveSessionSnapshot(); err != nil {
		logger.Error("save session snapshot on shutdown failed", "error", err)
	}
}

func newToolRegistry(cfg config.Config, sandbox *bolt.Sandbox, logger *slog.Logger) *bolt.ToolRegistry {
	reg := bolt.NewToolRegistry()

	shellTool := shell.New(sandbox)
	reg.Register("shell", shell.Description, shellTool.Handler())

	files.New(sandbox).Register(reg)

	pythonBin := "python3"
	pyTool := pyexec.New(pythonBin, sandbox)
	reg.Register("python_exec", pyexec.Description, pyTool.Handler())

	loaded := plugin.NewLoader(cfg.Plugins.Dir, plugin.WithLogger(logger)).LoadAll(reg)
	logger.Info("tool registry ready", "builtins", 6, "plugins_loaded", loaded)

	return reg
}

// runREPL reads stdin line by line until ctx is canceled or stdin closes.
func runREPL(ctx context.Context, core *bolt.Core, turn *bolt.TurnExecutor, taskTracker *workers.TaskTracker, profileLearner *workers.ProfileLearner, gw *gateway) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Print("> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if line == "/quit" || line == "/exit" {
			return
		}
		if strings.HasPrefix(line, "/") {
			handleCommand(ctx, core, line)
			fmt.Print("> ")
			continue
		}

		turnCtx := bolt.WithCloudAvailable(ctx, gw.CloudAvailable(ctx))
		reply, err := turn.ProcessMessage(turnCtx, core.SessionID(), line, func(chunk string) {
			fmt.Print(chunk)
		})
		fmt.Println()
		if err != nil {
			fmt.Println("error:", err)
			fmt.Print("> ")
			continue
		}

		if err := taskTracker.Observe(turnCtx, line, reply); err != nil {
			fmt.Println("[task tracker error]", err)
		}
		profileLearner.OnTurn(turnCtx, line, reply)

		fmt.Print("> ")
	}
}

// handleCommand dispatches a slash command to the Core facade (spec.md §6:
// "slash commands are delegated to the core as string requests").
func handleCommand(ctx context.Context, core *bolt.Core, line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}

	switch cmd {
	case "/help":
		printHelp()
	case "/mode":
		if arg == "" {
			fmt.Println(core.GetMode())
			return
		}
		switch bolt.Mode(arg) {
		case bolt.ModeCompanion, bolt.ModeCode, bolt.ModeBuild:
			core.SetMode(bolt.Mode(arg))
			fmt.Println("mode set to", arg)
		default:
			fmt.Println("unknown mode:", arg)
		}
	case "/profile":
		display, err := core.GetProfileDisplay()
		printResult(display, err)
	case "/clear-profile":
		printResult("profile cleared", core.ClearProfile())
	case "/status":
		fmt.Println(core.FormatStatus())
	case "/timeline":
		limit, _ := strconv.Atoi(arg)
		display, err := core.FormatTimeline(limit)
		printResult(display, err)
	case "/memory":
		display, err := core.FormatMemory()
		printResult(display, err)
	case "/tasks":
		display, err := core.FormatTasks()
		printResult(display, err)
	case "/tools":
		fmt.Println(strings.Join(core.ListTools(), "\n"))
	case "/build":
		if !core.RunPipeline(ctx) {
			fmt.Println("a pipeline is already running")
			return
		}
		fmt.Println("build pipeline started")
	case "/build-status":
		fmt.Println("running:", core.IsPipelineRunning())
	case "/new":
		if err := core.SaveSessionSnapshot(); err != nil {
			fmt.Println("[snapshot error]", err)
		}
		fmt.Println("new session:", core.NewSessionID())
	case "/snapshot":
		printResult("session snapshot saved", core.SaveSessionSnapshot())
	default:
		fmt.Println("unknown command:", cmd, "(try /help)")
	}
}

func printResult(display string, err error) {
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(display)
}

func printHelp() {
	fmt.Println(`commands:
  /mode [companion|code|build]   get or set the chat mode
  /profile                       show learned profile facts
  /clear-profile                 delete all learned profile facts
  /status                        show session/mode/pipeline status
  /timeline [n]                  show the last n timeline events
  /memory                        show the latest summary and profile
  /tasks                         show the active task
  /tools                         list registered tools
  /build                         start the build pipeline from this conversation
  /build-status                  report whether a build is running
  /new                           snapshot and start a new session
  /snapshot                      save a session snapshot now
  /quit                          exit`)
}
