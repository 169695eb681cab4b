// Package interactive provides the interactive command-line interface
// for the PolliNet relay.
package interactive

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/pollinet/pollinet-go/pkg/engine"
	"github.com/pollinet/pollinet-go/pkg/wire"
)

// Console handles interactive mode for pollinet-relay.
type Console struct {
	session *engine.Session
	rl      *readline.Instance
}

// New creates a new interactive console over a session.
func New(session *engine.Session) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "relay> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{session: session, rl: rl}, nil
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "transfer":
			c.cmdTransfer(args)

		case "spl":
			c.cmdSpl(args)

		case "vote":
			c.cmdVote(args)

		case "nonce-cache", "nc":
			c.cmdNonceCache(args)

		case "nonces":
			c.print(c.session.NonceStatus())

		case "nonce-stale":
			c.print(c.session.MarkNoncesStale())

		case "signers":
			c.cmdTxOp(args, c.session.RequiredSigners)

		case "message", "msg":
			c.cmdTxOp(args, c.session.MessageToSign)

		case "sign":
			c.cmdSign(args)

		case "verify":
			c.cmdTxOp(args, c.session.VerifyAndSerialize)

		case "refresh":
			c.cmdRefresh(args)

		case "clear":
			c.cmdTxOp(args, c.session.ClearTransaction)

		case "push":
			c.cmdPush(args)

		case "out":
			c.cmdOut()

		case "in":
			c.cmdIn(args)

		case "recv":
			c.cmdRecv()

		case "submitted":
			c.cmdTxOp(args, c.session.MarkSubmitted)

		case "hb":
			c.cmdHeartbeat(args)

		case "health":
			c.print(c.session.HealthSnapshot())

		case "metrics", "m":
			c.print(c.session.Metrics())

		case "tick":
			report, err := c.session.Tick(time.Now())
			if err != nil {
				c.printError(err)
				break
			}
			c.printJSON(report)

		case "save":
			if err := c.session.SaveState(); err != nil {
				c.printError(err)
				break
			}
			fmt.Fprintln(c.rl.Stdout(), "Saved.")

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
PolliNet Relay Commands:
  Building:
    transfer <sender> <recipient> <feePayer> <amount> [blockhash]
                       - Build an unsigned SOL transfer (no blockhash = offline nonce path)
    spl <senderWallet> <recipientWallet> <feePayer> <mint> <amount> [blockhash]
                       - Build an unsigned SPL token transfer
    vote <voter> <proposalId> <voteAccount> <choice> <feePayer> [blockhash]
                       - Build an unsigned governance vote

  Nonce Cache:
    nonce-cache <account> <authority> <blockhash> [lamports]
                       - Cache a durable-nonce entry for offline builds
    nonces             - Show cache counts and entries
    nonce-stale        - Mark every cached nonce as needing refresh

  Signing:
    signers <id>       - List required signers in slot order
    message <id>       - Show the base64 message bytes to sign
    sign <id> <signer> <signature>
                       - Apply one base58 signature
    verify <id>        - Verify all signatures and serialize
    refresh <id> <blockhash>
                       - Replace the blockhash of an unsigned artifact
    clear <id>         - Abandon an artifact

  Relay:
    push <id> [high|normal|low]
                       - Queue a verified artifact for transmission
    out                - Pop the next outbound frame (hex)
    in <hexframe>      - Inject an inbound frame
    recv               - Pop the next reassembled inbound artifact
    submitted <txid>   - Mark a received transaction as submitted

  Health:
    hb <peer> [latencyMs] [rssi]
                       - Record a peer heartbeat with optional samples
    health             - Show the peer health snapshot

  General:
    metrics            - Show session metrics
    tick               - Run time-based transitions now
    save               - Persist queues and nonce snapshot
    help               - Show this help
    quit               - Exit`)
}

// print writes a boundary result, or the error, to the console.
func (c *Console) print(data []byte, err error) {
	if err != nil {
		c.printError(err)
		return
	}
	var out map[string]any
	if json.Unmarshal(data, &out) == nil {
		pretty, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(c.rl.Stdout(), string(pretty))
		return
	}
	fmt.Fprintln(c.rl.Stdout(), string(data))
}

func (c *Console) printError(err error) {
	fmt.Fprintf(c.rl.Stdout(), "Error (%s): %v\n", engine.CodeFor(err), err)
}

func (c *Console) printJSON(v any) {
	pretty, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(c.rl.Stdout(), string(pretty))
}

func (c *Console) request(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func (c *Console) cmdTransfer(args []string) {
	if len(args) < 4 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: transfer <sender> <recipient> <feePayer> <amount> [blockhash]")
		return
	}
	amount, err := strconv.ParseUint(args[3], 10, 64)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid amount: %v\n", err)
		return
	}
	req := wire.CreateUnsignedTransactionRequest{
		Sender:    args[0],
		Recipient: args[1],
		FeePayer:  args[2],
		Amount:    amount,
	}
	if len(args) > 4 {
		req.Blockhash = args[4]
	}
	c.print(c.session.CreateUnsignedTransaction(c.request(req)))
}

func (c *Console) cmdSpl(args []string) {
	if len(args) < 5 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: spl <senderWallet> <recipientWallet> <feePayer> <mint> <amount> [blockhash]")
		return
	}
	amount, err := strconv.ParseUint(args[4], 10, 64)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid amount: %v\n", err)
		return
	}
	req := wire.CreateUnsignedSplTransactionRequest{
		SenderWallet:    args[0],
		RecipientWallet: args[1],
		FeePayer:        args[2],
		MintAddress:     args[3],
		Amount:          amount,
	}
	if len(args) > 5 {
		req.Blockhash = args[5]
	}
	c.print(c.session.CreateUnsignedSplTransaction(c.request(req)))
}

func (c *Console) cmdVote(args []string) {
	if len(args) < 5 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: vote <voter> <proposalId> <voteAccount> <choice> <feePayer> [blockhash]")
		return
	}
	choice, err := strconv.ParseUint(args[3], 10, 8)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid choice: %v\n", err)
		return
	}
	req := wire.CastUnsignedVoteRequest{
		Voter:       args[0],
		ProposalID:  args[1],
		VoteAccount: args[2],
		Choice:      uint8(choice),
		FeePayer:    args[4],
	}
	if len(args) > 5 {
		req.Blockhash = args[5]
	}
	c.print(c.session.CastUnsignedVote(c.request(req)))
}

func (c *Console) cmdNonceCache(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: nonce-cache <account> <authority> <blockhash> [lamports]")
		return
	}
	entry := wire.CachedNonce{
		NonceAccount: args[0],
		Authority:    args[1],
		Blockhash:    args[2],
	}
	if len(args) > 3 {
		lamports, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "Invalid lamports: %v\n", err)
			return
		}
		entry.LamportsPerSignature = lamports
	}
	c.print(c.session.CacheNonceAccounts(c.request(wire.CacheNonceAccountsRequest{
		Accounts: []wire.CachedNonce{entry},
	})))
}

// cmdTxOp runs a single-id operation like signers, message or clear.
func (c *Console) cmdTxOp(args []string, op func([]byte) ([]byte, error)) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: <command> <transaction-id>")
		return
	}
	c.print(op(c.request(wire.TransactionRequest{TransactionID: args[0]})))
}

func (c *Console) cmdSign(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: sign <id> <signer> <signature>")
		return
	}
	c.print(c.session.ApplySignature(c.request(wire.ApplySignatureRequest{
		TransactionID: args[0],
		Signer:        args[1],
		Signature:     args[2],
	})))
}

func (c *Console) cmdRefresh(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: refresh <id> <blockhash>")
		return
	}
	c.print(c.session.RefreshBlockhash(c.request(wire.RefreshBlockhashRequest{
		TransactionID: args[0],
		Blockhash:     args[1],
	})))
}

func (c *Console) cmdPush(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: push <id> [high|normal|low]")
		return
	}
	req := wire.PushOutboundRequest{TransactionID: args[0]}
	if len(args) > 1 {
		req.Priority = args[1]
	}
	c.print(c.session.PushOutbound(c.request(req)))
}

func (c *Console) cmdOut() {
	buf := make([]byte, 2048)
	n, ok, err := c.session.NextOutbound(buf)
	if err != nil {
		c.printError(err)
		return
	}
	if !ok {
		fmt.Fprintln(c.rl.Stdout(), "Outbound queue empty.")
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "%d bytes: %s\n", n, hex.EncodeToString(buf[:n]))
}

func (c *Console) cmdIn(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: in <hexframe>")
		return
	}
	frame, err := hex.DecodeString(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid hex: %v\n", err)
		return
	}
	c.print(c.session.PushInbound(frame))
}

func (c *Console) cmdRecv() {
	data, ok, err := c.session.PopReceived()
	if err != nil {
		c.printError(err)
		return
	}
	if !ok {
		fmt.Fprintln(c.rl.Stdout(), "Received queue empty.")
		return
	}
	c.print(data, nil)
}

func (c *Console) cmdHeartbeat(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: hb <peer> [latencyMs] [rssi]")
		return
	}
	c.session.RecordHeartbeat(args[0])
	if len(args) > 1 {
		latency, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "Invalid latency: %v\n", err)
			return
		}
		c.session.RecordLatency(args[0], uint32(latency))
	}
	if len(args) > 2 {
		rssi, err := strconv.ParseInt(args[2], 10, 8)
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "Invalid rssi: %v\n", err)
			return
		}
		c.session.RecordRSSI(args[0], int8(rssi))
	}
	fmt.Fprintf(c.rl.Stdout(), "Recorded heartbeat for %s\n", args[0])
}
