package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/orchestra-mcp/chatsync/src/service"
	"github.com/orchestra-mcp/chatsync/src/store"
	"github.com/orchestra-mcp/chatsync/src/types"
)

const helpText = `commands:
  rooms                     list rooms
  open <room>               focus a room in the main view
  send <text>               send to the focused room
  older <page>              load an older page of the focused room
  leave                     leave the focused room
  window <room>             open a floating window
  wsend <room> <text>       send from a floating window
  minimize <room>           toggle a window's minimized state
  close <room>              close a floating window
  windows                   list floating windows
  dm <user>                 open a private chat window
  group <name> <user>...    create a group room
  add <room> <user>         add a member to a room
  upload <room> <path>      upload a file
  search <query>            search users
  online                    list online users
  state                     show the connection state
  quit                      exit`

type repl struct {
	svc *service.Service
	in  io.Reader
	out io.Writer
}

func newREPL(svc *service.Service, in io.Reader, out io.Writer) *repl {
	return &repl{svc: svc, in: in, out: out}
}

var errQuit = errors.New("quit")

// parseLine splits a command line into the command and its arguments.
func parseLine(line string) (cmd string, args []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func (r *repl) run(ctx context.Context) error {
	cancel := r.svc.Store().Subscribe(r.printChange)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Fprintln(r.out, "type 'help' for commands")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, args := parseLine(line)
			if cmd == "" {
				continue
			}
			err := r.exec(ctx, cmd, args)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		}
	}
}

func (r *repl) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Fprintln(r.out, helpText)
	case "quit", "exit":
		return errQuit
	case "state":
		fmt.Fprintln(r.out, r.svc.State())
	case "rooms":
		if err := r.svc.LoadRooms(ctx); err != nil {
			return err
		}
		self := r.svc.CurrentUser().ID
		for _, room := range r.svc.Store().Rooms() {
			marker := " "
			if r.svc.AnyMemberOnline(room.ID) {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %-24s %s\n", marker, room.ID, room.DisplayName(self))
		}
	case "open":
		if len(args) != 1 {
			return errors.New("usage: open <room>")
		}
		if err := r.svc.OpenRoom(ctx, args[0]); err != nil {
			return err
		}
		for _, m := range r.svc.Main().Messages() {
			r.printMessage(m)
		}
	case "send":
		if _, err := r.svc.SendMessage(strings.Join(args, " ")); err != nil {
			return err
		}
	case "older":
		if len(args) != 1 {
			return errors.New("usage: older <page>")
		}
		page, err := strconv.Atoi(args[0])
		if err != nil || page < 1 {
			return fmt.Errorf("invalid page %q", args[0])
		}
		return r.svc.LoadMessages(ctx, page)
	case "leave":
		r.svc.LeaveCurrentRoom()
	case "window":
		if len(args) != 1 {
			return errors.New("usage: window <room>")
		}
		w, err := r.svc.OpenWindow(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "window %s: %d messages\n", w.State().DisplayName, len(w.Messages()))
	case "wsend":
		if len(args) < 2 {
			return errors.New("usage: wsend <room> <text>")
		}
		w, ok := r.svc.Windows().Window(args[0])
		if !ok {
			return fmt.Errorf("no window for room %s", args[0])
		}
		if _, err := w.Send(strings.Join(args[1:], " ")); err != nil {
			return err
		}
	case "minimize":
		if len(args) != 1 {
			return errors.New("usage: minimize <room>")
		}
		minimized, ok := r.svc.ToggleMinimize(args[0])
		if !ok {
			return fmt.Errorf("no window for room %s", args[0])
		}
		fmt.Fprintf(r.out, "minimized: %t\n", minimized)
	case "close":
		if len(args) != 1 || !r.svc.CloseWindow(args[0]) {
			return errors.New("usage: close <open room window>")
		}
	case "windows":
		for _, s := range r.svc.Windows().Windows() {
			fmt.Fprintf(r.out, "%-24s %-20s minimized=%t\n", s.RoomID, s.DisplayName, s.Minimized)
		}
	case "dm":
		if len(args) != 1 {
			return errors.New("usage: dm <user>")
		}
		w, err := r.svc.OpenPrivateChat(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "window %s (%s)\n", w.State().DisplayName, w.State().RoomID)
	case "group":
		if len(args) < 2 {
			return errors.New("usage: group <name> <user>...")
		}
		room, err := r.svc.CreateGroupRoom(ctx, args[0], args[1:])
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "created %s\n", room.ID)
	case "add":
		if len(args) != 2 {
			return errors.New("usage: add <room> <user>")
		}
		return r.svc.AddMember(ctx, args[0], args[1])
	case "upload":
		if len(args) != 2 {
			return errors.New("usage: upload <room> <path>")
		}
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		msg, err := r.svc.UploadMedia(ctx, args[0], filepath.Base(args[1]), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "uploaded %s\n", msg.MediaURL)
	case "search":
		users, err := r.svc.SearchUsers(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Fprintf(r.out, "%-24s %-16s %s online=%t\n", u.ID, u.Username, u.FullName, u.Online)
		}
	case "online":
		if err := r.svc.SeedOnline(ctx); err != nil {
			return err
		}
		for _, e := range r.svc.Presence().Online() {
			fmt.Fprintf(r.out, "%-24s %s\n", e.UserID, e.Username)
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (r *repl) printChange(c store.Change) {
	switch c.Kind {
	case store.ChangeMessages:
		if c.RoomID != r.svc.Main().Room() {
			return
		}
		msgs := r.svc.Main().Messages()
		if len(msgs) > 0 {
			r.printMessage(msgs[len(msgs)-1])
		}
	case store.ChangeTyping:
		if c.RoomID != r.svc.Main().Room() {
			return
		}
		for _, t := range r.svc.Main().TypingUsers() {
			fmt.Fprintf(r.out, "  %s is typing...\n", t.FullName)
		}
	}
}

func (r *repl) printMessage(m types.Message) {
	name := m.SenderFullName
	if name == "" {
		name = m.SenderID
	}
	body := m.Content
	if m.MessageType != types.MessageText {
		body = fmt.Sprintf("[%s] %s", strings.ToLower(string(m.MessageType)), m.MediaURL)
	}
	fmt.Fprintf(r.out, "%s  %s: %s\n", m.CreatedAt.Local().Format("15:04"), name, body)
}
