// Command chatcli is a small terminal client for the support-widget API.
// It opens (or resumes) a session, sends each input line as a user message,
// and polls until the bot reply lands, mirroring what the embedded widget
// does in the browser.
//
// Usage:
//
//	chatcli [-base http://localhost:8080/api/v1] [-session <id>]
//
// While chatting:
//
//	/up   rate the last bot reply helpful
//	/down rate the last bot reply not helpful
//	/quit exit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-support-widget/internal/client"
	"github.com/tbourn/go-support-widget/internal/domain"
	"github.com/tbourn/go-support-widget/internal/sysutil"
)

func main() {
	defaultBase := sysutil.FirstNonEmpty(os.Getenv("WIDGET_API_BASE"), "http://localhost:8080/api/v1")
	base := flag.String("base", defaultBase, "API base URL including /api/v1")
	session := flag.String("session", os.Getenv("WIDGET_SESSION_ID"), "session id to resume (empty creates a new one)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*base, nil)

	sess, created, err := c.CreateSession(ctx, *session, "chatcli")
	if err != nil {
		log.Fatal().Err(err).Msg("open session failed")
	}
	if created {
		fmt.Printf("session %s created\n", sess.ID)
	} else {
		fmt.Printf("session %s resumed\n", sess.ID)
	}

	poller := &client.Poller{Client: c, SessionID: sess.ID}

	var lastBot *domain.Message
	sc := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/up" || line == "/down":
			if lastBot == nil {
				fmt.Println("nothing to rate yet")
				break
			}
			fb, err := c.SubmitFeedback(ctx, sess.ID, lastBot.ID, line == "/up")
			if err != nil {
				log.Error().Err(err).Msg("feedback failed")
				break
			}
			fmt.Printf("feedback recorded (helpful=%v)\n", fb.IsHelpful)
		default:
			if err := exchange(ctx, c, poller, sess.ID, line, &lastBot); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("exchange failed")
			}
		}
		fmt.Print("> ")
	}
}

// exchange submits one user line and blocks until the reply settles.
func exchange(ctx context.Context, c *client.Client, poller *client.Poller, sessionID, line string, lastBot **domain.Message) error {
	if _, err := c.SubmitMessage(ctx, sessionID, line, uuid.NewString()); err != nil {
		return err
	}
	bot, err := poller.WaitForReply(ctx)
	if err != nil {
		return err
	}
	if bot == nil || bot.Body == nil {
		fmt.Println("(no reply; the generator could not answer)")
		return nil
	}
	*lastBot = bot
	fmt.Printf("bot: %s\n", *bot.Body)
	return nil
}
