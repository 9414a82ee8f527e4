package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/odvcencio/gotsync/pkg/remote"
)

const progressInterval = 100 * time.Millisecond

// progressPrinter renders transfer progress. The running line is only
// drawn when w is a terminal; the summary is always printed.
type progressPrinter struct {
	w     io.Writer
	label string
	tty   bool
	last  time.Time
	drawn bool
}

func newProgressPrinter(w io.Writer, label string) *progressPrinter {
	return &progressPrinter{w: w, label: label, tty: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *progressPrinter) callbacks() remote.Callbacks {
	return remote.Callbacks{
		Progress:    p.update,
		Message:     p.message,
		Credentials: promptCredentials,
	}
}

func (p *progressPrinter) update(tp remote.TransferProgress) error {
	if !p.tty {
		return nil
	}
	now := time.Now()
	if now.Sub(p.last) < progressInterval && tp.ReceivedObjects < tp.TotalObjects {
		return nil
	}
	p.last = now
	p.drawn = true
	fmt.Fprintf(p.w, "\r%s", formatProgress(p.label, tp))
	return nil
}

func (p *progressPrinter) message(s string) {
	p.clear()
	fmt.Fprintf(p.w, "remote: %s\n", strings.TrimRight(s, "\n"))
}

// done ends the running line and prints the totals of a transfer.
func (p *progressPrinter) done(tp remote.TransferProgress) {
	p.clear()
	if tp.ReceivedObjects == 0 {
		return
	}
	fmt.Fprintln(p.w, formatProgress(p.label, tp))
}

func (p *progressPrinter) clear() {
	if p.drawn {
		fmt.Fprint(p.w, "\r\033[K")
		p.drawn = false
	}
}

func formatProgress(label string, tp remote.TransferProgress) string {
	pct := 100
	if tp.TotalObjects > 0 {
		pct = tp.ReceivedObjects * 100 / tp.TotalObjects
	}
	return fmt.Sprintf("%s: %3d%% (%d/%d objects, %s)",
		label, pct, tp.ReceivedObjects, tp.TotalObjects, humanize.Bytes(uint64(tp.ReceivedBytes)))
}

// promptCredentials asks for a username and password on the terminal. It
// fails when stdin is not interactive so scripted runs never block.
func promptCredentials(url string) (remote.Credentials, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return remote.Credentials{}, errors.New("no credentials: set GOT_TOKEN or GOT_USERNAME/GOT_PASSWORD")
	}
	fmt.Fprintf(os.Stderr, "Username for %s: ", url)
	user, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return remote.Credentials{}, fmt.Errorf("read username: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", url)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return remote.Credentials{}, fmt.Errorf("read password: %w", err)
	}
	return remote.Credentials{Username: strings.TrimSpace(user), Password: string(pass)}, nil
}
