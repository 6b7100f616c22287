package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolethescientist/email-engine/internal/config"
	"github.com/wolethescientist/email-engine/internal/journal"
	"github.com/wolethescientist/email-engine/internal/mailbox"
	"github.com/wolethescientist/email-engine/internal/monitor"
	"github.com/wolethescientist/email-engine/internal/notify"
)

func main() {
	mode := flag.String("mode", "poll", "one of: fetch, poll, watch, folders, serve")
	folderName := flag.String("folder", "Inbox", "logical folder to operate on")
	uid := flag.Uint("uid", 0, "message UID (fetch mode)")
	attachment := flag.String("attachment", "", "attachment filename to save (fetch mode)")
	limit := flag.Int("limit", 0, "max refs to print (0: all)")
	interval := flag.Duration("interval", 0, "poll interval override (0: configured value)")
	listenAddr := flag.String("listen", ":8080", "HTTP listen address (serve mode)")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	folder, err := mailbox.ParseFolder(*folderName)
	if err != nil {
		log.Fatalf("Invalid folder: %v", err)
	}

	if *interval > 0 {
		cfg.PollInterval = *interval
	}

	account := mailbox.Account{
		Host:     cfg.IMAPHost,
		Port:     cfg.IMAPPort,
		UseTLS:   cfg.UseTLS,
		Identity: cfg.Identity,
		Secret:   cfg.Secret,
	}
	engine := mailbox.NewEngine(account, cfg.FolderOverrides, cfg.SearchWindow)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jnl, err := journal.Open(ctx, cfg.JournalDSN)
	if err != nil {
		log.Fatalf("Failed to open cycle journal: %v", err)
	}
	defer jnl.Close()

	mon := monitor.New(monitor.NewEngineSyncer(engine), monitor.Options{
		PollInterval: cfg.PollInterval,
		IdleWaitCap:  cfg.IdleWaitCap,
		Window:       cfg.SearchWindow,
		BackoffMax:   cfg.BackoffMax,
		MaxWorkers:   cfg.MaxWorkers,
		Record:       jnl.RecordCycle,
	})
	defer mon.Close()

	switch *mode {
	case "fetch":
		runFetch(ctx, engine, folder, uint32(*uid), *attachment)
	case "poll":
		runPoll(ctx, mon, folder, *limit)
	case "watch":
		runWatch(ctx, mon, cfg.Identity, folder)
	case "folders":
		runFolders(ctx, engine)
	case "serve":
		runServe(ctx, mon, cfg.Identity, *listenAddr)
	default:
		log.Fatalf("Unknown mode %q", *mode)
	}
}

func runFetch(ctx context.Context, engine *mailbox.Engine, folder mailbox.Folder, uid uint32, attachment string) {
	if uid == 0 {
		log.Fatalf("fetch mode requires -uid")
	}

	if attachment != "" {
		content, err := engine.FetchAttachment(ctx, folder, uid, attachment)
		if err != nil {
			log.Fatalf("Failed to fetch attachment: %v", err)
		}
		if err := os.WriteFile(attachment, content, 0o644); err != nil {
			log.Fatalf("Failed to write attachment: %v", err)
		}
		log.Printf("Wrote %d bytes to %s", len(content), attachment)
		return
	}

	record, err := engine.FetchMessage(ctx, folder, uid)
	if err != nil {
		log.Fatalf("Failed to fetch message: %v", err)
	}

	fmt.Printf("Subject: %s\n", record.Subject)
	fmt.Printf("From:    %s\n", record.From)
	fmt.Printf("To:      %s\n", strings.Join(record.To, ", "))
	fmt.Printf("Date:    %s\n", record.Date.Format(time.RFC1123Z))
	if record.ParseError {
		fmt.Println("(body could not be parsed; headers only)")
	}
	if len(record.Attachments) > 0 {
		fmt.Printf("Attachments: %v\n", record.Attachments)
	}
	fmt.Println()
	fmt.Println(record.Body())
}

func runPoll(ctx context.Context, mon *monitor.Monitor, folder mailbox.Folder, limit int) {
	refs, err := mon.Poll(ctx, folder)
	if err != nil {
		log.Fatalf("Poll failed: %v", err)
	}

	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	for _, ref := range refs {
		marker := " "
		if ref.Unseen {
			marker = "*"
		}
		fmt.Printf("%s %s uid=%d\n", marker, ref.Folder, ref.UID)
	}
	log.Printf("Poll complete: %d message(s)", len(refs))
}

func runWatch(ctx context.Context, mon *monitor.Monitor, user string, folder mailbox.Folder) {
	handle, err := mon.StartWatch(user, folder, monitor.WatchMode())
	if err != nil {
		log.Fatalf("Failed to start watch: %v", err)
	}
	log.Printf("Watching %s/%s (handle %s)", user, folder, handle.ID)

	go func() {
		<-ctx.Done()
		mon.StopWatch(handle)
	}()

	for ev := range handle.Events() {
		switch ev.Type {
		case monitor.EventNewMail:
			for _, ref := range ev.Refs {
				log.Printf("New mail in %s: uid=%d", ref.Folder, ref.UID)
			}
		case monitor.EventError:
			log.Printf("Watch degraded (%s): %s", ev.Kind, ev.Detail)
		case monitor.EventNotice:
			log.Printf("Notice (%s): %s", ev.Kind, ev.Detail)
		case monitor.EventHeartbeat:
			// Quiet; the watch is alive.
		}
	}
	log.Printf("Watch stopped")
}

func runFolders(ctx context.Context, engine *mailbox.Engine) {
	summaries, err := engine.CheckFolders(ctx, mailbox.Folders())
	if err != nil {
		log.Fatalf("Folder scan failed: %v", err)
	}

	for _, folder := range mailbox.Folders() {
		summary, ok := summaries[folder]
		if !ok {
			continue
		}
		switch {
		case summary.Err != nil:
			fmt.Printf("%-8s error: %v\n", folder, summary.Err)
		case !summary.Accessible:
			fmt.Printf("%-8s not present on this provider\n", folder)
		default:
			fmt.Printf("%-8s %d message(s), %d unseen, %d recent\n", folder, summary.Total, summary.Unseen, summary.Recent)
		}
	}
}

// runServe exposes watches over WebSocket: a client connects with
// ?folder=Inbox and receives the event stream for that folder as JSON.
func runServe(ctx context.Context, mon *monitor.Monitor, user, addr string) {
	hub := notify.NewHub(10)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "mailbox engine is running")
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		folder, err := mailbox.ParseFolder(r.URL.Query().Get("folder"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("serve: upgrade failed: %v", err)
			return
		}

		topic := notify.Topic(user, folder)
		client := hub.Register(topic, conn)
		if client == nil {
			return
		}

		// First subscriber on a folder starts its watch; the relay ends
		// when the watch stops.
		handle, err := mon.StartWatch(user, folder, monitor.WatchMode())
		if err == nil {
			go func() {
				hub.Relay(handle)
				hub.Unregister(topic, client)
			}()
		}

		// Discard inbound frames; the stream is one-way.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					hub.Unregister(topic, client)
					return
				}
			}
		}()
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("Serving watch streams on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
