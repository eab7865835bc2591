package estimator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ServeLines answers the estimator line protocol until r ends:
//
//	Q <record>  ->  <score> | ERR <message>
//	T <record>  ->  OK      | ERR <message>
//
// Every request gets exactly one reply line.
func ServeLines(ctx context.Context, r io.Reader, w io.Writer, est Estimator) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		reply := handleLine(ctx, scanner.Text(), est)
		if _, err := out.WriteString(reply + "\n"); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func handleLine(ctx context.Context, line string, est Estimator) string {
	cmd, text, _ := strings.Cut(line, " ")
	switch cmd {
	case "Q":
		score, err := est.Query(ctx, text)
		if err != nil {
			return errorReply(err)
		}
		return strconv.FormatFloat(score, 'g', -1, 64)
	case "T":
		if err := est.Train(ctx, text); err != nil {
			return errorReply(err)
		}
		return "OK"
	}
	return errorReply(fmt.Errorf("unknown command %q", cmd))
}

func errorReply(err error) string {
	return "ERR " + strings.ReplaceAll(err.Error(), "\n", " ")
}
