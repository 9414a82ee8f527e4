package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odvcencio/gotsync/pkg/remote"
)

func TestFormatProgress(t *testing.T) {
	got := formatProgress("receiving objects", remote.TransferProgress{
		TotalObjects:    4,
		ReceivedObjects: 2,
		ReceivedBytes:   2048,
	})
	assert.Equal(t, "receiving objects:  50% (2/4 objects, 2.0 kB)", got)

	got = formatProgress("writing objects", remote.TransferProgress{})
	assert.Equal(t, "writing objects: 100% (0/0 objects, 0 B)", got)
}

func TestProgressPrinterNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf, "receiving objects")
	assert.False(t, p.tty)

	assert.NoError(t, p.update(remote.TransferProgress{TotalObjects: 3, ReceivedObjects: 1}))
	assert.Empty(t, buf.String(), "running line is only drawn on a terminal")

	p.message("counting objects\n")
	p.done(remote.TransferProgress{TotalObjects: 3, ReceivedObjects: 3, ReceivedBytes: 10})
	assert.Equal(t, "remote: counting objects\nreceiving objects: 100% (3/3 objects, 10 B)\n", buf.String())
}
