package main

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kardianos/ticketgate"
	"github.com/kardianos/ticketgate/tconfig"
	"github.com/kardianos/ticketgate/tident"
	"github.com/kardianos/ticketgate/tstore"
)

var errOneOperation = errors.New("choose exactly one operation")

func defaultConfigPath() string {
	if p := os.Getenv("TICKETGATE_CONFIG"); p != "" {
		return p
	}
	return tconfig.DefaultPath()
}

// countTrue reports how many of the operation flags are set.
func countTrue(ops ...bool) int {
	n := 0
	for _, op := range ops {
		if op {
			n++
		}
	}
	return n
}

// parseAssign splits key=value and drops surrounding quotes from the value.
func parseAssign(s string) (key, value string, err error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid assignment %q, use key=value", s)
	}
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, nil
}

func runConfigMode(args []string, out io.Writer) error {
	var configPath string
	var get, set, ensure, backup bool
	fs := newFlagSet("config", &configPath)
	fs.BoolVar(&get, "get", false, "print the whole file, or the value at the dotted path argument")
	fs.BoolVar(&set, "set", false, "store each key=value argument")
	fs.BoolVar(&ensure, "ensure", false, "add missing default settings")
	fs.BoolVar(&backup, "backup", false, "copy the file to <file>.bak")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if countTrue(get, set, ensure, backup) != 1 {
		return errOneOperation
	}

	if backup {
		bak, err := tconfig.Backup(configPath)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]any{"ok": true, "message": "backup created", "backup": bak})
	}

	doc, err := tconfig.Open(configPath)
	if err != nil {
		return err
	}
	switch {
	case get:
		key := strings.TrimSpace(strings.Join(fs.Args(), " "))
		v, err := doc.Get(key)
		if err != nil {
			return err
		}
		if key == "" {
			return writeJSON(out, map[string]any{"ok": true, "path": doc.Path(), "config": v})
		}
		return writeJSON(out, map[string]any{"ok": true, "key": key, "value": v})

	case set:
		if fs.NArg() == 0 {
			return errors.New("missing assignment, e.g. config --set printing.label-printer=ZEBRA_D220")
		}
		var updated []string
		for _, a := range fs.Args() {
			k, v, err := parseAssign(a)
			if err != nil {
				return err
			}
			if err := doc.Set(k, v); err != nil {
				return err
			}
			updated = append(updated, k)
		}
		if err := doc.Save(); err != nil {
			return err
		}
		return writeJSON(out, map[string]any{"ok": true, "message": "config saved", "updated": updated})

	default:
		added, err := doc.Ensure()
		if err != nil {
			return err
		}
		if err := doc.Save(); err != nil {
			return err
		}
		return writeJSON(out, map[string]any{"ok": true, "message": "config ensured", "path": doc.Path(), "added": added})
	}
}

// openKeyStore opens the store named by --store, or the one in settings.
func openKeyStore(configPath, storePath string) (tstore.DataStore, error) {
	if storePath == "" {
		s, err := tconfig.Load(configPath)
		if err != nil {
			return nil, err
		}
		storePath = s.Ticket.KeyStore
	}
	return tstore.Open(storePath)
}

func runKeysMode(args []string, out io.Writer) error {
	var configPath, storePath string
	var set, list, del bool
	fs := newFlagSet("keys", &configPath)
	fs.StringVar(&storePath, "store", "", "key store path (default: ticket.key-store from settings)")
	fs.BoolVar(&set, "set", false, "store each kid=secret argument, encrypted")
	fs.BoolVar(&list, "list", false, "list stored key ids")
	fs.BoolVar(&del, "delete", false, "remove each kid argument")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if countTrue(set, list, del) != 1 {
		return errOneOperation
	}
	store, err := openKeyStore(configPath, storePath)
	if err != nil {
		return err
	}

	switch {
	case list:
		names, err := store.List(ticketgate.KeyPrefix)
		if err != nil {
			return err
		}
		kids := make([]string, 0, len(names))
		for _, n := range names {
			kids = append(kids, strings.TrimPrefix(n, ticketgate.KeyPrefix))
		}
		return writeJSON(out, map[string]any{"ok": true, "store": store.Path(), "keys": kids})

	case set:
		if fs.NArg() == 0 {
			return errors.New("missing assignment, e.g. keys --set central=<secret>")
		}
		var updated []string
		for _, a := range fs.Args() {
			kid, secret, err := parseAssign(a)
			if err != nil {
				return err
			}
			if err := ticketgate.SaveKey(store, kid, []byte(secret)); err != nil {
				return err
			}
			updated = append(updated, kid)
		}
		return writeJSON(out, map[string]any{"ok": true, "store": store.Path(), "updated": updated})

	default:
		if fs.NArg() == 0 {
			return errors.New("missing key id")
		}
		for _, kid := range fs.Args() {
			if err := store.Delete(ticketgate.KeyPrefix + strings.TrimSpace(kid)); err != nil {
				return err
			}
		}
		return writeJSON(out, map[string]any{"ok": true, "store": store.Path(), "deleted": fs.Args()})
	}
}

func runNetMode(ctx context.Context, args []string, out io.Writer) error {
	var configPath string
	var mac, adapters bool
	fs := newFlagSet("net", &configPath)
	fs.BoolVar(&mac, "mac", false, "print the active adapter's MAC address")
	fs.BoolVar(&adapters, "adapters", false, "list network adapters")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if countTrue(mac, adapters) != 1 {
		return errOneOperation
	}

	if mac {
		id, err := tident.NewResolver().LocalIdentity(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]any{"ok": true, "mac": id})
	}
	all, err := tident.Adapters()
	if err != nil {
		return err
	}
	list := make([]tident.Adapter, 0, len(all))
	for _, a := range all {
		if a.Kind != tident.KindLoopback {
			list = append(list, a)
		}
	}
	return writeJSON(out, map[string]any{"ok": true, "adapters": list})
}

// mintOptions describes a test ticket.
type mintOptions struct {
	KeyID       string
	Action      string
	ClientID    string
	JobID       string
	PrinterType string
	ContentType string
	PayloadFile string
	TTL         time.Duration
}

func mintTicket(keys *ticketgate.KeyStore, opt mintOptions, now time.Time) (*ticketgate.Ticket, error) {
	act, ok := ticketgate.ParseAction(opt.Action)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ticketgate.ErrUnknownAction, opt.Action)
	}
	secret, ok := keys.Lookup(opt.KeyID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ticketgate.ErrUnknownKey, opt.KeyID)
	}
	if opt.JobID == "" {
		opt.JobID = uuid.NewString()
	}
	t := &ticketgate.Ticket{
		KeyID:         opt.KeyID,
		JobID:         opt.JobID,
		ClientID:      opt.ClientID,
		Action:        string(act),
		PrinterClass:  opt.PrinterType,
		ContentType:   opt.ContentType,
		PayloadSHA256: ticketgate.NoPayloadDigest,
		IssuedAt:      now.Unix(),
		ExpiresAt:     now.Add(opt.TTL).Unix(),
		Nonce:         uuid.NewString(),
	}
	if opt.PayloadFile != "" {
		data, err := os.ReadFile(opt.PayloadFile)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		t.PayloadBase64 = base64.StdEncoding.EncodeToString(data)
		t.PayloadSHA256 = hex.EncodeToString(sum[:])
	}
	t.Signature = ticketgate.Sign(secret, t)
	return t, nil
}

func runTicketMode(args []string, out io.Writer) error {
	var configPath, storePath string
	var mint bool
	opt := mintOptions{}
	fs := newFlagSet("ticket", &configPath)
	fs.StringVar(&storePath, "store", "", "key store path (default: ticket.key-store from settings)")
	fs.BoolVar(&mint, "mint", false, "sign a new ticket")
	fs.StringVar(&opt.KeyID, "kid", "", "signing key id")
	fs.StringVar(&opt.Action, "action", string(ticketgate.ActionIdentityQuery), "ticket action")
	fs.StringVar(&opt.ClientID, "client-id", "local-test", "client id")
	fs.StringVar(&opt.JobID, "job-id", "", "job id (default: random)")
	fs.StringVar(&opt.PrinterType, "printer-type", "", "printer class")
	fs.StringVar(&opt.ContentType, "content-type", "", "payload content type")
	fs.StringVar(&opt.PayloadFile, "payload", "", "file to carry as the payload")
	fs.DurationVar(&opt.TTL, "ttl", 60*time.Second, "ticket lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !mint {
		return errOneOperation
	}

	settings, err := tconfig.Load(configPath)
	if err != nil {
		return err
	}
	var src ticketgate.KeySource
	if storePath == "" {
		storePath = settings.Ticket.KeyStore
	}
	if storePath != "" {
		if store, err := tstore.Open(storePath); err == nil {
			src = store
		} else if len(settings.Ticket.Keys) == 0 {
			return err
		}
	}
	keys, err := ticketgate.LoadKeyStore(src, settings.Ticket.Keys)
	if err != nil {
		return err
	}
	if opt.KeyID == "" {
		if ids := keys.KeyIDs(); len(ids) == 1 {
			opt.KeyID = ids[0]
		} else {
			return errors.New("--kid is required when more than one key is configured")
		}
	}

	t, err := mintTicket(keys, opt, time.Now())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"ok":     true,
		"ticket": t,
		"query":  "ticket=" + url.QueryEscape(string(raw)),
	})
}
