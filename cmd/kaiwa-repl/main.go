package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"

	"github.com/kotoba-labs/kaiwa/internal/config"
	"github.com/kotoba-labs/kaiwa/internal/imagegen"
	"github.com/kotoba-labs/kaiwa/internal/llm"
	"github.com/kotoba-labs/kaiwa/internal/memory"
	"github.com/kotoba-labs/kaiwa/internal/protocol"
	"github.com/kotoba-labs/kaiwa/internal/session"
	"github.com/kotoba-labs/kaiwa/internal/voice"
)

// kaiwa-repl is a text-only terminal client for the tutor: same pipeline
// and memory as the server, without the voice or web surfaces.
func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	store, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.MemoryDir)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer store.Close()

	var provider llm.Provider
	if cfg.OpenAIAPIKey != "" {
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel})
		if err != nil {
			log.Fatalf("openai provider init failed: %v", err)
		}
		provider = p
	} else {
		provider = llm.NewMockProvider()
		fmt.Println("(no OPENAI_API_KEY set, using canned replies)")
	}

	sessions := session.NewManager(session.Deps{
		Store:  store,
		LLM:    provider,
		TTS:    voice.NewMockProvider(),
		Images: imagegen.NewMockGenerator(),
	})

	sess, err := sessions.Open(ctx, printMessage)
	if err != nil {
		log.Fatalf("open session: %v", err)
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			raw, _ := sonic.Marshal(protocol.ClientText{Type: protocol.TypeClientText, Text: text})
			sess.HandleMessage(ctx, raw)
		}
		sess.End()
	}()

	<-sess.Done()
}

func printMessage(msg any) error {
	switch m := msg.(type) {
	case protocol.AssistantText:
		fmt.Printf("tutor> %s\n", m.Text)
	case protocol.AssistantImage:
		fmt.Printf("tutor> [image: %s]\n", m.Caption)
	case protocol.TurnEnd:
		fmt.Print("you> ")
	case protocol.ErrorEvent:
		fmt.Printf("error> %s\n", m.Detail)
	}
	return nil
}
