package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"eino_flow/internal/chain"
	"eino_flow/internal/engine"
	"eino_flow/internal/event"
	"eino_flow/internal/nodes"
	"eino_flow/pkg"
	"eino_flow/src"
	"eino_flow/src/conversation"
	"eino_flow/src/logger"
	"eino_flow/src/storage"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const usage = `usage:
  eino_flow run    [-graph file] [-query text] [-input key=value ...] [-user id] [-app id] [-conversation id]
  eino_flow resume -event id -payload '{"response": "..."}'`

type inputFlags map[string]any

func (f inputFlags) String() string { return fmt.Sprint(map[string]any(f)) }

func (f inputFlags) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("input %q must be key=value", v)
	}
	f[key] = value
	return nil
}

func main() {
	// .env is optional; the environment wins
	_ = godotenv.Load()

	config, err := src.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.InitLogger(config.LogConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := storage.NewRedisClient(ctx, config.RedisConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer client.Close()

	registry := event.NewRegistry(client, config.EventConfig)

	switch os.Args[1] {
	case "run":
		err = runCommand(ctx, config, client, registry, os.Args[2:])
	case "resume":
		err = resumeCommand(ctx, registry, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("Command failed")
	}
}

func runCommand(ctx context.Context, config *src.Config, client *redis.Client, registry *event.Registry, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	graphFile := fs.String("graph", config.EngineConfig.GraphFile, "workflow graph (YAML or JSON)")
	query := fs.String("query", "", "user query, available as sys.query")
	userID := fs.String("user", "cli-user", "user id")
	appID := fs.String("app", "cli", "app id")
	conversationID := fs.String("conversation", "", "conversation id for memory and scoped globals")
	inputs := inputFlags{}
	fs.Var(inputs, "input", "run input key=value, repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, ok := inputs["query"]; !ok && *query != "" {
		inputs["query"] = *query
	}

	graph, err := pkg.LoadGraph(*graphFile)
	if err != nil {
		return err
	}
	compiled, err := chain.Compile(graph, chain.WithMaxPaths(config.EngineConfig.MaxPaths))
	if err != nil {
		return err
	}

	chatModel, err := newChatModel(ctx, config)
	if err != nil {
		return err
	}

	conv := conversation.NewService(
		conversation.NewRedisRepository(client, config.EventConfig.Namespace, config.ConversationConfig.TTL),
		conversation.NewWindowStrategy(config.ConversationConfig.MaxTurns),
	)
	factory := nodes.NewFactory(nodes.Deps{
		Registry:     registry,
		Globals:      storage.NewRedisStorage(client, config.EventConfig.Namespace),
		GlobalTTL:    config.EngineConfig.GlobalVarTTL,
		Executor:     nodes.NewSandboxClient(config.CodeConfig, nil),
		CodeTimeout:  config.CodeConfig.Timeout,
		ChatModel:    chatModel,
		Conversation: conv,
	})

	eng, err := engine.New(compiled, factory, config.EngineConfig, engine.WithRegistry(registry))
	if err != nil {
		return err
	}

	logger.Info().
		Str("workflow_id", graph.ID).
		Int("paths", len(compiled.Master.Paths)).
		Int("iterations", len(compiled.Iterations)).
		Msg("Workflow compiled")

	sr, err := eng.Stream(ctx, engine.RunInput{
		AppID:          *appID,
		UserID:         *userID,
		ConversationID: *conversationID,
		Query:          *query,
		Inputs:         inputs,
		Streaming:      true,
	})
	if err != nil {
		return err
	}
	defer sr.Close()

	for {
		ev, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		printEvent(ev)
	}
}

func printEvent(ev *engine.RunEvent) {
	switch ev.Type {
	case engine.EventChunk:
		fmt.Print(ev.Chunk)
	case engine.EventInterrupted:
		fmt.Printf("\n⏸  %s is waiting for input: %s\n", ev.NodeID, ev.Prompt)
		fmt.Printf("   resume with: eino_flow resume -event %s -payload '{\"response\": \"...\"}'\n", ev.EventID)
	case engine.EventNodeFinished:
		if ev.Result.Err != nil {
			logger.Warn().
				Str("node_id", ev.NodeID).
				Str("status", string(ev.Result.Status)).
				Str("category", string(ev.Result.Category)).
				Err(ev.Result.Err).
				Msg("Node did not succeed")
		}
	case engine.EventRunFinished:
		run := ev.Run
		fmt.Printf("\n\n=== Run %s: %s (%s) ===\n", run.ExecutionID, run.Status, run.Elapsed)
		if len(run.Outputs) > 0 {
			out, err := sonic.ConfigStd.MarshalIndent(run.Outputs, "", "  ")
			if err == nil {
				fmt.Println(string(out))
			}
		}
		if run.Err != nil {
			fmt.Printf("error: %v\n", run.Err)
		}
	}
}

func resumeCommand(ctx context.Context, registry *event.Registry, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	eventID := fs.String("event", "", "event id printed by the interrupted run")
	payload := fs.String("payload", "{}", "JSON object delivered to the waiting node")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *eventID == "" {
		return errors.New("-event is required")
	}

	var body map[string]any
	if err := sonic.UnmarshalString(*payload, &body); err != nil {
		return fmt.Errorf("payload must be a JSON object: %w", err)
	}
	entry, err := registry.Resume(ctx, *eventID, body)
	if err != nil {
		return err
	}
	logger.Info().Str("event_id", *eventID).Int64("retries", entry.Retries).Msg("Resume delivered")
	return nil
}

// newChatModel builds the OpenAI-compatible model for llm nodes. Without an API
// key it returns nil and graphs with llm nodes fail to build.
func newChatModel(ctx context.Context, config *src.Config) (model.BaseChatModel, error) {
	cfg := config.LLMConfig
	if cfg.APIKey == "" {
		logger.Warn().Msg("LLM_API_KEY not set, llm nodes are unavailable")
		return nil, nil
	}
	maxTokens := cfg.MaxTokens
	temperature := float32(cfg.Temperature)

	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}
	return chatModel, nil
}
