// Command wordcount is a minimal harness exercising StartJob,
// wait_for_job, get_job_state and close_job end to end, grounded in
// corral's own Driver.Main() and examples/motivation_expr usage
// pattern, scoped to local, single-process execution only.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/noamabu/OS-course/mapreduce"
)

// wordKey is the Key implementation this harness's shuffle sorts by.
type wordKey string

func (w wordKey) Less(other mapreduce.Key) bool {
	return w < other.(wordKey)
}

type wordCountClient struct{}

func (wordCountClient) Map(_, value interface{}, ctx *mapreduce.WorkerContext) {
	line := value.(string)
	for _, word := range strings.Fields(line) {
		ctx.Emit2(wordKey(strings.ToLower(word)), 1)
	}
}

func (wordCountClient) Reduce(group *mapreduce.Group, ctx *mapreduce.WorkerContext) {
	sum := 0
	for _, v := range group.Values {
		sum += v.(int)
	}
	ctx.Emit3(string(group.Key.(wordKey)), sum)
}

func main() {
	input := flag.StringP("input", "i", "", "path to input text file")
	output := flag.StringP("out", "o", "", "path to output file (default: stdout)")
	workers := flag.IntP("workers", "w", 4, "number of map/reduce workers")
	verbose := flag.BoolP("verbose", "v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if *input == "" {
		fmt.Fprintln(os.Stderr, "system error: --input is required")
		os.Exit(1)
	}

	pairs, err := readLines(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "system error: %v\n", err)
		os.Exit(1)
	}

	handle := mapreduce.StartJob(wordCountClient{}, pairs, *workers)
	watchProgress(handle)
	handle.Wait()
	defer handle.Close()

	if err := writeOutput(*output, handle.Output()); err != nil {
		fmt.Fprintf(os.Stderr, "system error: %v\n", err)
		os.Exit(1)
	}
}

func readLines(path string) ([]mapreduce.InputPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pairs []mapreduce.InputPair
	scanner := bufio.NewScanner(f)
	for lineNum := 0; scanner.Scan(); lineNum++ {
		pairs = append(pairs, mapreduce.InputPair{Key: lineNum, Value: scanner.Text()})
	}
	return pairs, scanner.Err()
}

// watchProgress polls GetJobState and drives a cheggaaa/pb progress
// bar per phase, grounded in corral's driver.go
// (pb.New(...).Prefix("Map").Start()).
func watchProgress(handle *mapreduce.JobHandle) {
	go func() {
		var bar *pb.ProgressBar
		lastStage := mapreduce.StageUndefined
		for {
			state := handle.State()
			if state.Stage != lastStage {
				if bar != nil {
					bar.Finish()
				}
				bar = pb.New(100).Prefix(strings.Title(state.Stage.String()))
				bar.Start()
				lastStage = state.Stage
			}
			if bar != nil {
				bar.Set(int(state.Percent))
			}
			if state.Stage == mapreduce.StageReduce && state.Percent >= 100.0 {
				if bar != nil {
					bar.Finish()
				}
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()
}

func writeOutput(path string, pairs []mapreduce.OutputPair) error {
	w := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	for _, p := range pairs {
		fmt.Fprintf(w, "%v\t%v\n", p.Key, p.Value)
	}
	return nil
}
