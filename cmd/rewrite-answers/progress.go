package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const progressWidth = 30

// progressPrinter renders batch progress, in place on a terminal and as plain
// lines otherwise
type progressPrinter struct {
	out     io.Writer
	inPlace bool
	drawn   bool
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	inPlace := false
	if f, ok := out.(*os.File); ok {
		inPlace = term.IsTerminal(int(f.Fd()))
	}
	return &progressPrinter{out: out, inPlace: inPlace}
}

func (p *progressPrinter) update(done, total int) {
	line := renderProgress(done, total)
	if p.inPlace {
		fmt.Fprintf(p.out, "\r%s", line)
		p.drawn = true
		return
	}
	fmt.Fprintln(p.out, line)
}

func (p *progressPrinter) finish() {
	if p.inPlace && p.drawn {
		fmt.Fprintln(p.out)
	}
}

func renderProgress(done, total int) string {
	if total <= 0 {
		return fmt.Sprintf("[%s] 0/0", strings.Repeat(" ", progressWidth))
	}
	filled := done * progressWidth / total
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", progressWidth-filled)
	return fmt.Sprintf("[%s] %d/%d %s", bar, done, total, gray(fmt.Sprintf("(%d%%)", done*100/total)))
}
