package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const contentWidth = 48

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errUsage
		}
		return fmt.Errorf("%s: %w", fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%s: unexpected argument %q", fs.Name(), fs.Arg(0))
	}
	return nil
}

func requireFlag(cmd, name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s: -%s is required", cmd, name)
	}
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := a.flagSet("login")
	username := fs.String("username", envOr("CHORUS_ADMIN_USERNAME", "admin"), "Admin username")
	password := fs.String("password", os.Getenv("CHORUS_ADMIN_PASSWORD"), "Admin password (or CHORUS_ADMIN_PASSWORD, or stdin)")
	if err := parse(fs, args); err != nil {
		return err
	}

	if *password == "" {
		fmt.Fprint(a.out, "Password: ")
		line, err := bufio.NewReader(a.in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		*password = strings.TrimRight(line, "\r\n")
	}

	resp, err := a.console.Login(ctx, *username, *password)
	if err != nil {
		return err
	}
	saved := savedToken{Server: a.server, Username: *username, Token: resp.Token, ExpiresAt: resp.ExpiresAt}
	if err := storeToken(a.tokenPath, saved); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged in to %s as %s until %s\n", a.server, *username, formatTime(resp.ExpiresAt))
	return nil
}

func (a *app) logout(ctx context.Context, args []string) error {
	if err := parse(a.flagSet("logout"), args); err != nil {
		return err
	}
	if err := removeToken(a.tokenPath); err != nil {
		return fmt.Errorf("remove token: %w", err)
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

// call runs op with the current credential and decodes the reply into out.
func (a *app) call(ctx context.Context, op string, payload, out any) error {
	token, err := a.credential()
	if err != nil {
		return err
	}
	return a.console.InvokeInto(ctx, op, payload, token, out)
}

func (a *app) users(ctx context.Context, args []string) error {
	if err := parse(a.flagSet("users"), args); err != nil {
		return err
	}
	var profiles []protocol.Profile
	if err := a.call(ctx, protocol.OpGetUsers, nil, &profiles); err != nil {
		return err
	}
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		rows = append(rows, []string{p.ID, p.Username, p.Status, deref(p.LastIP), formatTimePtr(p.LastActive), formatTime(p.CreatedAt)})
	}
	a.table([]string{"ID", "USERNAME", "STATUS", "LAST IP", "LAST ACTIVE", "CREATED"}, rows)
	return nil
}

func (a *app) servers(ctx context.Context, args []string) error {
	if err := parse(a.flagSet("servers"), args); err != nil {
		return err
	}
	var servers []protocol.Server
	if err := a.call(ctx, protocol.OpGetServers, nil, &servers); err != nil {
		return err
	}
	rows := make([][]string, 0, len(servers))
	for _, s := range servers {
		rows = append(rows, []string{s.ID, s.Name, s.OwnerUsername, s.InviteCode, formatTime(s.CreatedAt)})
	}
	a.table([]string{"ID", "NAME", "OWNER", "INVITE", "CREATED"}, rows)
	return nil
}

func (a *app) channels(ctx context.Context, args []string) error {
	fs := a.flagSet("channels")
	serverID := fs.String("server", "", "Only list channels of this server ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	var channels []protocol.Channel
	if err := a.call(ctx, protocol.OpGetChannels, nil, &channels); err != nil {
		return err
	}
	rows := make([][]string, 0, len(channels))
	for _, c := range channels {
		if *serverID != "" && c.ServerID != *serverID {
			continue
		}
		rows = append(rows, []string{c.ID, c.ServerName, c.Name, c.Type, formatTime(c.CreatedAt)})
	}
	a.table([]string{"ID", "SERVER", "NAME", "TYPE", "CREATED"}, rows)
	return nil
}

func (a *app) flags(ctx context.Context, args []string) error {
	if err := parse(a.flagSet("flags"), args); err != nil {
		return err
	}
	var flagged []protocol.FlaggedMessage
	if err := a.call(ctx, protocol.OpGetFlaggedMessages, nil, &flagged); err != nil {
		return err
	}
	rows := make([][]string, 0, len(flagged))
	for _, f := range flagged {
		kind, target, content := "message", deref(f.MessageID), ""
		if f.DMID != nil {
			kind, target = "dm", *f.DMID
		}
		switch {
		case f.Message != nil:
			content = f.Message.Content
		case f.DirectMessage != nil:
			content = f.DirectMessage.Content
		}
		rows = append(rows, []string{f.ID, kind, target, f.Severity, f.Reason, truncate(content, contentWidth), formatTime(f.CreatedAt)})
	}
	a.table([]string{"ID", "KIND", "TARGET", "SEVERITY", "REASON", "CONTENT", "CREATED"}, rows)
	return nil
}

func (a *app) logs(ctx context.Context, args []string) error {
	fs := a.flagSet("logs")
	action := fs.String("action", "", "Only show entries of this action type")
	if err := parse(fs, args); err != nil {
		return err
	}
	var entries []protocol.ModerationLog
	if err := a.call(ctx, protocol.OpGetModerationLogs, nil, &entries); err != nil {
		return err
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		if *action != "" && e.ActionType != *action {
			continue
		}
		rows = append(rows, []string{formatTime(e.CreatedAt), e.ActionType, e.PerformedBy, deref(e.TargetUserID), truncate(compactJSON(e.Details), contentWidth)})
	}
	a.table([]string{"WHEN", "ACTION", "BY", "TARGET USER", "DETAILS"}, rows)
	return nil
}

func (a *app) ban(ctx context.Context, args []string) error {
	fs := a.flagSet("ban")
	userID := fs.String("user", "", "User ID to ban")
	serverID := fs.String("server", "", "Server ID to ban the user from")
	global := fs.Bool("global", false, "Ban from every server")
	reason := fs.String("reason", "", "Reason recorded with the ban")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireFlag("ban", "user", *userID); err != nil {
		return err
	}
	if !*global && *serverID == "" {
		return errors.New("ban: -server or -global is required")
	}

	payload := protocol.BanUserPayload{UserID: *userID, Reason: *reason, IsGlobal: *global}
	if !*global {
		payload.ServerID = serverID
	}
	var ban protocol.Ban
	if err := a.call(ctx, protocol.OpBanUser, payload, &ban); err != nil {
		return err
	}
	scope := "globally"
	if ban.ServerID != nil {
		scope = "from server " + *ban.ServerID
	}
	fmt.Fprintf(a.out, "Banned user %s %s (ban %s)\n", ban.UserID, scope, ban.ID)
	return nil
}

func (a *app) ipBan(ctx context.Context, args []string) error {
	fs := a.flagSet("ipban")
	ip := fs.String("ip", "", "IP address to ban")
	reason := fs.String("reason", "", "Reason recorded with the ban")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireFlag("ipban", "ip", *ip); err != nil {
		return err
	}

	var ban protocol.IPBan
	if err := a.call(ctx, protocol.OpIPBan, protocol.IPBanPayload{IPAddress: *ip, BanReason: *reason}, &ban); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Banned IP %s (ban %s)\n", ban.IPAddress, ban.ID)
	return nil
}

func (a *app) deleteMessage(ctx context.Context, args []string) error {
	fs := a.flagSet("delete-message")
	id := fs.String("id", "", "Message ID")
	dm := fs.Bool("dm", false, "The ID is a direct message")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireFlag("delete-message", "id", *id); err != nil {
		return err
	}

	var reply struct {
		MessageID string `json:"message_id"`
	}
	if err := a.call(ctx, protocol.OpDeleteMessage, protocol.DeleteMessagePayload{MessageID: *id, IsDM: *dm}, &reply); err != nil {
		return err
	}
	kind := "message"
	if *dm {
		kind = "direct message"
	}
	fmt.Fprintf(a.out, "Deleted %s %s\n", kind, reply.MessageID)
	return nil
}

func (a *app) deleteChannel(ctx context.Context, args []string) error {
	fs := a.flagSet("delete-channel")
	id := fs.String("id", "", "Channel ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireFlag("delete-channel", "id", *id); err != nil {
		return err
	}

	var reply struct {
		ChannelID string `json:"channel_id"`
	}
	if err := a.call(ctx, protocol.OpDeleteChannel, protocol.DeleteChannelPayload{ChannelID: *id}, &reply); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted channel %s\n", reply.ChannelID)
	return nil
}

func (a *app) review(ctx context.Context, args []string) error {
	fs := a.flagSet("review")
	id := fs.String("id", "", "Flagged message ID")
	action := fs.String("action", "dismissed", "Action taken, recorded on the flag")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireFlag("review", "id", *id); err != nil {
		return err
	}
	if err := requireFlag("review", "action", *action); err != nil {
		return err
	}

	var reply struct {
		FlaggedID   string `json:"flagged_id"`
		ActionTaken string `json:"action_taken"`
	}
	if err := a.call(ctx, protocol.OpReviewFlaggedMessage, protocol.ReviewFlagPayload{FlaggedID: *id, Action: *action}, &reply); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Reviewed flag %s: %s\n", reply.FlaggedID, reply.ActionTaken)
	return nil
}

// raw takes an operation name and an optional JSON payload and prints the
// reply data indented.
func (a *app) raw(ctx context.Context, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("raw: usage: chorus-admin raw <operation> [json]")
	}
	var payload any
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return errors.New("raw: payload is not valid JSON")
		}
		payload = json.RawMessage(args[1])
	}

	token, err := a.credential()
	if err != nil {
		return err
	}
	data, err := a.console.Invoke(ctx, args[0], payload, token)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(data)
	}
	fmt.Fprintln(a.out, pretty.String())
	return nil
}

func (a *app) table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(a.out, "Nothing to show")
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(a.out, t.String())
	fmt.Fprintf(a.out, "%d rows\n", len(rows))
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func formatTimePtr(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return formatTime(*ms)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// truncate shortens s to max runes on one line.
func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
