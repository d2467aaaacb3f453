package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/risa-org/chatlink/client"
	"github.com/risa-org/chatlink/config"
	"github.com/risa-org/chatlink/message"
	chattransport "github.com/risa-org/chatlink/transport"
	"github.com/risa-org/chatlink/transport/amqp"
	"github.com/risa-org/chatlink/transport/tcp"
	"github.com/risa-org/chatlink/transport/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	author  string
	target  string
	replyTo uint64
	outDir  string
	outName string
)

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), func(c *client.Client) (message.RequestID, error) {
			return c.SendText(strings.Join(args, " "), replyRef(cmd))
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), func(c *client.Client) (message.RequestID, error) {
			return c.Upload(args[0], replyRef(cmd))
		})
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <index>",
	Short: "Download a previously uploaded file",
	Long: `fetch downloads file <index> into --out. A one-shot session has not seen the
upload's announcement, so the file is saved as <index>.bin unless --name gives the name.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("index %q: %w", args[0], err)
		}
		return run(cmd.Context(), func(c *client.Client) (message.RequestID, error) {
			return c.Fetch(index)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Mark one of your messages deleted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("message id %q: %w", args[0], err)
		}
		return run(cmd.Context(), func(c *client.Client) (message.RequestID, error) {
			return c.Delete(message.MessageID(id))
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, uploadCmd, fetchCmd, deleteCmd} {
		c.Flags().StringVar(&author, "author", "", "name to send as (overrides CHATLINK_AUTHOR)")
		c.Flags().StringVar(&target, "target", "", "recipient (overrides CHATLINK_TARGET)")
		rootCmd.AddCommand(c)
	}
	sendCmd.Flags().Uint64Var(&replyTo, "reply-to", 0, "message id this one answers")
	uploadCmd.Flags().Uint64Var(&replyTo, "reply-to", 0, "message id this upload answers")
	fetchCmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory to write the fetched file to")
	fetchCmd.Flags().StringVar(&outName, "name", "", "file name to save as (default <index>.bin)")
}

func replyRef(cmd *cobra.Command) *message.MessageID {
	if !cmd.Flags().Changed("reply-to") {
		return nil
	}
	id := message.MessageID(replyTo)
	return &id
}

// run connects, issues one request and prints its result.
func run(ctx context.Context, issue func(*client.Client) (message.RequestID, error)) error {
	if author != "" {
		cfg.Author = author
	}
	if target != "" {
		cfg.Target = target
	}
	if cfg.Author == "" {
		return errors.New("no author: set CHATLINK_AUTHOR or pass --author")
	}

	adapter, err := dial(ctx, cfg)
	if err != nil {
		return err
	}

	c, err := client.Connect(ctx, adapter, cfg.Author, cfg.Secret, cfg.Target,
		client.WithLogger(logger),
		client.WithTimeout(cfg.ExchangeTimeout),
		client.WithMaxUploadSize(cfg.MaxUploadSize),
		client.WithResultHighWater(cfg.ResultHighWater),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := issue(c); err != nil {
		return err
	}
	c.Wait()

	p := &printer{}
	c.Poll(p)
	return p.err
}

func dial(ctx context.Context, cfg config.Config) (chattransport.Adapter, error) {
	switch cfg.Transport {
	case config.TransportWebSocket:
		url := cfg.Addr
		if !strings.Contains(url, "://") {
			url = "ws://" + url + cfg.WebSocketPath
		}
		return websocket.Dial(ctx, url, cfg.MaxFrameSize)
	case config.TransportAMQP:
		return amqp.DialClient(cfg.AMQPURL, cfg.AMQPQueue)
	default:
		return tcp.Dial(cfg.Addr, tcp.WithMaxFrameSize(cfg.MaxFrameSize))
	}
}

// printer reports results on stdout and keeps the first failure.
type printer struct {
	client.BaseHandler
	err error
}

func (p *printer) OnDelivered(_ message.RequestID, r message.Delivered) {
	fmt.Printf("delivered as message %d\n", r.MessageID)
}

func (p *printer) OnFileMeta(_ message.RequestID, r message.FileMeta) {
	fmt.Printf("uploaded %s as file %d (%d bytes)\n", r.FileName, r.Index, r.Size)
}

func (p *printer) OnFileBytes(_ message.RequestID, r message.FileBytes) {
	path := outputPath(outDir, outName, r.Index)
	if err := os.WriteFile(path, r.Bytes, 0o644); err != nil {
		p.err = err
		return
	}
	fmt.Printf("fetched file %d into %s (%d bytes)\n", r.Index, path, len(r.Bytes))
}

func (p *printer) OnDeleted(_ message.RequestID, r message.DeletedAck) {
	fmt.Printf("message %d marked deleted\n", r.MessageID)
}

func (p *printer) OnFailure(id message.RequestID, r message.Failure) {
	logger.Debug("request failed", zap.Stringer("request_id", id), zap.Stringer("kind", r.Kind))
	if p.err == nil {
		p.err = r.Err()
	}
}

// outputPath is where a fetched file is written. Only the base of name is
// used so a name cannot point outside dir.
func outputPath(dir, name string, index uint64) string {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		name = strconv.FormatUint(index, 10) + ".bin"
	}
	return filepath.Join(dir, name)
}
