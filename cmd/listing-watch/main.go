// Command listing-watch follows a listing's funding or comment stream and prints
// each event as a log line. It reconnects with a growing delay and gives up after
// five consecutive failed connections.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shlawgathon/wishlist-sub000/internal/realtime"
)

func main() {
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listing-watch [listing-id]",
		Short: "Follow a listing's live funding or comment updates",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}

	cmd.Flags().String("base-url", envOr("BACKING_SERVICE_URL", "http://localhost:8080"), "backing service base URL")
	cmd.Flags().BoolP("comments", "c", false, "watch comments instead of funding")
	cmd.Flags().Duration("poll", 0, "poll the snapshot endpoint at this interval instead of streaming")
	cmd.Flags().Int("attempts", 5, "consecutive failed connections before giving up")
	cmd.Flags().Duration("backoff", 3*time.Second, "reconnect delay step")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	listingID := strings.TrimSpace(args[0])
	if listingID == "" {
		return errors.New("listing id is required")
	}
	baseURL, _ := cmd.Flags().GetString("base-url")
	comments, _ := cmd.Flags().GetBool("comments")
	poll, _ := cmd.Flags().GetDuration("poll")
	attempts, _ := cmd.Flags().GetInt("attempts")
	backoff, _ := cmd.Flags().GetDuration("backoff")

	watcher := realtime.NewWatcher(newTransport(strings.TrimRight(baseURL, "/"), listingID, comments, poll))
	watcher.MaxAttempts = attempts
	watcher.Backoff = backoff

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("level=info component=listing_watch listing_id=%s comments=%t polling=%t msg=\"watching\"", listingID, comments, poll > 0)
	err := watcher.Run(ctx, func(msg realtime.Message) {
		log.Printf("level=info component=listing_watch event=%s type=%s data=%s", msg.Event, msg.Type, msg.Data)
	})
	if err == nil || errors.Is(err, context.Canceled) {
		log.Println("level=info component=listing_watch msg=\"stopped\"")
		return nil
	}
	return fmt.Errorf("watch %s: %w", listingID, err)
}

func newTransport(baseURL, listingID string, comments bool, poll time.Duration) realtime.Transport {
	path := "/listings/" + url.PathEscape(listingID)
	event := realtime.EventListingUpdate
	if comments {
		path += "/comments"
		event = realtime.EventCommentUpdate
	}
	if poll > 0 {
		return &realtime.PollingTransport{
			URL:        baseURL + path,
			Event:      event,
			Interval:   poll,
			HTTPClient: &http.Client{Timeout: 15 * time.Second},
		}
	}
	return &realtime.SSETransport{
		URL:        baseURL + path + "/stream",
		HTTPClient: &http.Client{},
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
