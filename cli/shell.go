package cli

import (
	storageengine "DaemonStore/storage_engine"
	"DaemonStore/types"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
)

// ErrQuit is returned by Exec for quit and exit
var ErrQuit = errors.New("quit")

const shellHelp = `open <path>                      open or create a table, prints its id
insert <table> <key> <value>     insert a record
find <table> <key> [trx]         look a key up, locking it when trx is given
update <table> <key> <value> <trx>
delete <table> <key>
begin | commit <trx> | abort <trx>
scan <table> [from] [limit]      list records in key order
stats                            buffer pool, log and lock counters
quit`

// Shell runs one command line at a time against an open engine.
type Shell struct {
	se *storageengine.StorageEngine
	w  io.Writer
}

func NewShell(se *storageengine.StorageEngine, w io.Writer) *Shell {
	return &Shell{se: se, w: w}
}

type shellCmd struct {
	args int // minimum argument count
	max  int
	run  func(s *Shell, args []string) error
}

var shellCmds = map[string]shellCmd{
	"open":   {1, 1, (*Shell).open},
	"insert": {3, 3, (*Shell).insert},
	"find":   {2, 3, (*Shell).find},
	"update": {4, 4, (*Shell).update},
	"delete": {2, 2, (*Shell).delete},
	"begin":  {0, 0, (*Shell).begin},
	"commit": {1, 1, (*Shell).commit},
	"abort":  {1, 1, (*Shell).abort},
	"scan":   {1, 3, (*Shell).scan},
	"stats":  {0, 0, (*Shell).stats},
	"help":   {0, 0, (*Shell).help},
}

// Exec runs one line. Blank lines are ignored.
func (s *Shell) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	if name == "quit" || name == "exit" {
		return ErrQuit
	}
	cmd, ok := shellCmds[name]
	if !ok {
		return errors.Errorf("unknown command %q, try help", fields[0])
	}
	args := fields[1:]
	if len(args) < cmd.args || len(args) > cmd.max {
		return errors.Errorf("%s: wrong number of arguments", name)
	}
	return cmd.run(s, args)
}

func parseTable(arg string) (types.TableID, error) {
	n, err := strconv.ParseInt(arg, 10, 64)
	return types.TableID(n), errors.Wrapf(err, "table id %q", arg)
}

func parseKey(arg string) (int64, error) {
	n, err := strconv.ParseInt(arg, 10, 64)
	return n, errors.Wrapf(err, "key %q", arg)
}

func parseTrx(arg string) (types.TrxID, error) {
	n, err := strconv.ParseInt(arg, 10, 32)
	return types.TrxID(n), errors.Wrapf(err, "transaction id %q", arg)
}

func (s *Shell) open(args []string) error {
	id, err := s.se.OpenTable(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.w, "table %d\n", id)
	return nil
}

func (s *Shell) insert(args []string) error {
	table, err := parseTable(args[0])
	if err != nil {
		return err
	}
	key, err := parseKey(args[1])
	if err != nil {
		return err
	}
	return s.se.Insert(table, key, []byte(args[2]))
}

func (s *Shell) find(args []string) error {
	table, err := parseTable(args[0])
	if err != nil {
		return err
	}
	key, err := parseKey(args[1])
	if err != nil {
		return err
	}
	var trx types.TrxID
	if len(args) == 3 {
		if trx, err = parseTrx(args[2]); err != nil {
			return err
		}
	}
	v, err := s.se.Find(table, key, trx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.w, "%d: %s\n", key, v)
	return nil
}

func (s *Shell) update(args []string) error {
	table, err := parseTable(args[0])
	if err != nil {
		return err
	}
	key, err := parseKey(args[1])
	if err != nil {
		return err
	}
	trx, err := parseTrx(args[3])
	if err != nil {
		return err
	}
	if _, err := s.se.Update(table, key, []byte(args[2]), trx); err != nil {
		return err
	}
	fmt.Fprintln(s.w, "1 record updated")
	return nil
}

func (s *Shell) delete(args []string) error {
	table, err := parseTable(args[0])
	if err != nil {
		return err
	}
	key, err := parseKey(args[1])
	if err != nil {
		return err
	}
	return s.se.Delete(table, key)
}

func (s *Shell) begin(args []string) error {
	trx, err := s.se.Begin()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.w, "trx %d\n", trx)
	return nil
}

func (s *Shell) commit(args []string) error {
	trx, err := parseTrx(args[0])
	if err != nil {
		return err
	}
	if _, err := s.se.Commit(trx); err != nil {
		return err
	}
	fmt.Fprintf(s.w, "trx %d committed\n", trx)
	return nil
}

func (s *Shell) abort(args []string) error {
	trx, err := parseTrx(args[0])
	if err != nil {
		return err
	}
	if _, err := s.se.Abort(trx); err != nil {
		return err
	}
	fmt.Fprintf(s.w, "trx %d aborted\n", trx)
	return nil
}

func (s *Shell) scan(args []string) error {
	table, err := parseTable(args[0])
	if err != nil {
		return err
	}
	from := int64(math.MinInt64)
	if len(args) > 1 {
		if from, err = parseKey(args[1]); err != nil {
			return err
		}
	}
	limit := 20
	if len(args) > 2 {
		if limit, err = strconv.Atoi(args[2]); err != nil {
			return errors.Wrapf(err, "limit %q", args[2])
		}
	}

	entries, err := s.se.Scan(table, from, limit)
	if err != nil {
		return err
	}
	tw := tablewriter.NewWriter(s.w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"key", "value", "size"})
	for _, e := range entries {
		tw.Append([]string{strconv.FormatInt(e.Key, 10), string(e.Value), strconv.Itoa(len(e.Value))})
	}
	tw.Render()
	fmt.Fprintf(s.w, "(%d rows)\n", tw.NumLines())
	return nil
}

func (s *Shell) stats(args []string) error {
	st := s.se.Stats()

	tw := tablewriter.NewWriter(s.w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"component", "counter", "value"})
	row := func(component, counter string, v interface{}) {
		tw.Append([]string{component, counter, fmt.Sprint(v)})
	}
	row("pool", "frames", st.Pool.Capacity)
	row("pool", "cached", st.Pool.Cached)
	row("pool", "dirty", st.Pool.Dirty)
	row("pool", "hits", humanize.Comma(int64(st.Pool.Hits)))
	row("pool", "misses", humanize.Comma(int64(st.Pool.Misses)))
	row("pool", "evictions", humanize.Comma(int64(st.Pool.Evictions)))
	row("log", "flushed lsn", st.Log.FlushedLSN)
	row("log", "buffered", humanize.Bytes(uint64(st.Log.Buffered)))
	row("log", "records", humanize.Comma(int64(st.Log.Appended)))
	row("lock", "locks", st.Locks.Locks)
	row("lock", "waits", st.Locks.Waits)
	row("lock", "deadlocks", st.Locks.Deadlocks)
	row("trx", "active", fmt.Sprint(st.ActiveTrx))
	row("table", "open", fmt.Sprint(st.Tables))
	tw.Render()
	return nil
}

func (s *Shell) help(args []string) error {
	fmt.Fprintln(s.w, shellHelp)
	return nil
}
