package openapi

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

const (
	diffContext = 3
	// maxLCSCells bounds the LCS table; larger inputs fall back to one replace hunk.
	maxLCSCells = 4_000_000
)

type lineOp struct {
	kind byte // ' ', '-', '+'
	text string
}

// UnifiedDiff returns a unified diff between a and b, or "" when they are equal.
func UnifiedDiff(origName, newName, a, b string) (string, error) {
	if a == b {
		return "", nil
	}

	ops := diffLines(splitLines(a), splitLines(b))
	fd := &diff.FileDiff{
		OrigName: origName,
		NewName:  newName,
		Hunks:    buildHunks(ops, diffContext),
	}
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("failed to print diff: %w", err)
	}
	return string(out), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func diffLines(a, b []string) []lineOp {
	pre := 0
	for pre < len(a) && pre < len(b) && a[pre] == b[pre] {
		pre++
	}
	suf := 0
	for suf < len(a)-pre && suf < len(b)-pre && a[len(a)-1-suf] == b[len(b)-1-suf] {
		suf++
	}

	ops := make([]lineOp, 0, len(a)+len(b))
	for _, l := range a[:pre] {
		ops = append(ops, lineOp{' ', l})
	}

	am, bm := a[pre:len(a)-suf], b[pre:len(b)-suf]
	if len(am)*len(bm) > maxLCSCells {
		for _, l := range am {
			ops = append(ops, lineOp{'-', l})
		}
		for _, l := range bm {
			ops = append(ops, lineOp{'+', l})
		}
	} else {
		ops = append(ops, lcsOps(am, bm)...)
	}

	for _, l := range a[len(a)-suf:] {
		ops = append(ops, lineOp{' ', l})
	}
	return ops
}

func lcsOps(a, b []string) []lineOp {
	n, m := len(a), len(b)
	width := m + 1
	// table[i*width+j] is the LCS length of a[i:] and b[j:].
	table := make([]int32, (n+1)*width)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				table[i*width+j] = table[(i+1)*width+j+1] + 1
			case table[(i+1)*width+j] >= table[i*width+j+1]:
				table[i*width+j] = table[(i+1)*width+j]
			default:
				table[i*width+j] = table[i*width+j+1]
			}
		}
	}

	var ops []lineOp
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, lineOp{' ', a[i]})
			i++
			j++
		case table[(i+1)*width+j] >= table[i*width+j+1]:
			ops = append(ops, lineOp{'-', a[i]})
			i++
		default:
			ops = append(ops, lineOp{'+', b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, lineOp{'-', a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, lineOp{'+', b[j]})
	}
	return ops
}

func buildHunks(ops []lineOp, context int) []*diff.Hunk {
	// origBefore[i] and newBefore[i] count lines preceding ops[i].
	origBefore := make([]int, len(ops)+1)
	newBefore := make([]int, len(ops)+1)
	for i, op := range ops {
		origBefore[i+1] = origBefore[i]
		newBefore[i+1] = newBefore[i]
		if op.kind != '+' {
			origBefore[i+1]++
		}
		if op.kind != '-' {
			newBefore[i+1]++
		}
	}

	var hunks []*diff.Hunk
	i := 0
	for i < len(ops) {
		for i < len(ops) && ops[i].kind == ' ' {
			i++
		}
		if i == len(ops) {
			break
		}

		start := max(0, i-context)
		last := i
		for j := i; j < len(ops); j++ {
			if ops[j].kind == ' ' {
				continue
			}
			// Changes separated by up to 2*context unchanged lines share a hunk.
			if j-last-1 > 2*context {
				break
			}
			last = j
		}
		end := min(len(ops), last+1+context)

		var body strings.Builder
		for _, op := range ops[start:end] {
			body.WriteByte(op.kind)
			body.WriteString(op.text)
			body.WriteByte('\n')
		}

		origLines := origBefore[end] - origBefore[start]
		newLines := newBefore[end] - newBefore[start]
		origStart := origBefore[start] + 1
		if origLines == 0 {
			origStart = origBefore[start]
		}
		newStart := newBefore[start] + 1
		if newLines == 0 {
			newStart = newBefore[start]
		}

		hunks = append(hunks, &diff.Hunk{
			OrigStartLine: int32(origStart),
			OrigLines:     int32(origLines),
			NewStartLine:  int32(newStart),
			NewLines:      int32(newLines),
			Body:          []byte(body.String()),
		})
		i = end
	}
	return hunks
}
