package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// ErrMalformedWatermark is returned when a persisted watermark cannot be
// parsed. Retrying does not help; the cursor itself is corrupt.
var ErrMalformedWatermark = errors.New("malformed watermark")

// Message is one raw message pulled from the mailbox. ID is the IMAP UID
// rendered as a decimal string; it is the watermark format persisted in
// email_configurations.last_processed_id and must stay stable.
type Message struct {
	ID       string
	UID      uint32
	From     string
	Subject  string
	Date     time.Time
	BodyText string
	BodyHTML string
}

// Settings are the per-job connection parameters. The decrypted credential
// lives only inside the job that built the Settings value.
type Settings struct {
	Server       string
	Port         int
	Address      string
	Password     string
	DialTimeout  time.Duration
	FetchTimeout time.Duration
}

// Session is an authenticated IMAP session. It holds no cursor: callers
// supply the watermark on every fetch. Not safe for concurrent use; the
// one-pending-job-per-user invariant guarantees a single session per
// mailbox.
type Session struct {
	client       *client.Client
	logger       *slog.Logger
	fetchTimeout time.Duration
}

// Dial connects and authenticates. Auth and network failures are both
// session-level connectivity errors for the caller.
func Dial(ctx context.Context, settings Settings, logger *slog.Logger) (*Session, error) {
	log := logger.With("mailbox", settings.Address)

	timeout := settings.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	addr := net.JoinHostPort(settings.Server, strconv.Itoa(settings.Port))
	log.Debug("connecting to IMAP server", "server", addr)

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create IMAP client: %w", err)
	}
	imapClient.Timeout = timeout

	if err := imapClient.Login(settings.Address, settings.Password); err != nil {
		imapClient.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	fetchTimeout := settings.FetchTimeout
	if fetchTimeout == 0 {
		fetchTimeout = 2 * time.Minute
	}

	log.Debug("connected to IMAP server")
	return &Session{client: imapClient, logger: log, fetchTimeout: fetchTimeout}, nil
}

// FetchSince returns messages newer than the sinceID watermark, oldest
// first. An empty sinceID fetches recent messages (last 30 days) instead
// of the whole mailbox. When senders is non-empty only messages from those
// addresses are returned; a message that fails to parse is skipped with a
// warning, never aborting the fetch.
func (s *Session) FetchSince(ctx context.Context, sinceID string, senders []string) ([]Message, error) {
	// Search and fetch move more data than the login round-trips did, so
	// they get their own command timeout.
	s.client.Timeout = s.fetchTimeout

	if _, err := s.client.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	sinceUID, err := parseWatermark(sinceID)
	if err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	if sinceUID > 0 {
		seqSet := new(imap.SeqSet)
		seqSet.AddRange(sinceUID+1, 0) // 0 means *
		criteria.Uid = seqSet
	} else {
		criteria.Since = time.Now().AddDate(0, 0, -30)
	}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 100)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	wanted := senderSet(senders)

	var out []Message
	for msg := range messages {
		parsed, err := s.parseMessage(msg, section)
		if err != nil {
			s.logger.Warn("failed to parse message", "uid", msg.Uid, "error", err)
			continue
		}
		if parsed.UID <= sinceUID {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[strings.ToLower(parsed.From)]; !ok {
				continue
			}
		}
		out = append(out, *parsed)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// Close logs out. Safe to call on all exit paths; a hung logout is cut
// off after a short grace period.
func (s *Session) Close() error {
	done := make(chan error, 1)
	go func() {
		done <- s.client.Logout()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return s.client.Terminate()
	}
}

// parseMessage converts an IMAP message into a Message
func (s *Session) parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	out := &Message{
		UID: msg.Uid,
		ID:  FormatWatermark(msg.Uid),
	}

	if msg.Envelope != nil {
		out.Subject = msg.Envelope.Subject
		out.Date = msg.Envelope.Date
		if len(msg.Envelope.From) > 0 {
			out.From = msg.Envelope.From[0].Address()
		}
	}

	bodyReader := msg.GetBody(section)
	if bodyReader == nil {
		return out, nil
	}

	mr, err := mail.CreateReader(bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail reader: %w", err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Warn("failed to read part", "uid", msg.Uid, "error", err)
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(ct, "text/plain") && out.BodyText == "":
			out.BodyText = string(body)
		case strings.HasPrefix(ct, "text/html") && out.BodyHTML == "":
			out.BodyHTML = string(body)
		}
	}

	return out, nil
}

// FormatWatermark renders a UID in the persisted watermark format.
func FormatWatermark(uid uint32) string {
	return strconv.FormatUint(uint64(uid), 10)
}

func parseWatermark(id string) (uint32, error) {
	if id == "" {
		return 0, nil
	}
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrMalformedWatermark, id, err)
	}
	return uint32(uid), nil
}

func senderSet(senders []string) map[string]struct{} {
	if len(senders) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(senders))
	for _, s := range senders {
		set[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return set
}
