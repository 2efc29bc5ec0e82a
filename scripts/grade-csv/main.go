// Command grade-csv grades a CSV of student answers against one answer key through the API.
// This exercises the API the way a school integration would: upload, index, submit, grade.
//
// Usage:
//
//	go run ./scripts/grade-csv -file answers.csv -answer-key-id <uuid> -api-key YOUR_API_KEY
//	go run ./scripts/grade-csv -file answers.csv -answer-key-file key.txt -max-score 10 -api-key YOUR_API_KEY
//
// The input needs a header row with an "answer" column and optionally a "student_ref" column.
// One result row per input row is written to -out (default stdout).
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/essaygrader/hub/pkg/grader"
)

// Config holds the CLI configuration
type Config struct {
	FilePath      string
	OutPath       string
	APIBaseURL    string
	APIKey        string
	AnswerKeyID   string
	AnswerKeyFile string
	MaxScore      int
	DelayMS       int
	DryRun        bool
}

// Stats tracks grading statistics
type Stats struct {
	TotalRows    int
	SkippedEmpty int
	Graded       int
	Failed       int
	NeedsReview  int
}

// gradingClient is the part of grader.Client the tool uses.
type gradingClient interface {
	CreateAnswerKey(ctx context.Context, req grader.CreateAnswerKeyRequest) (*grader.AnswerKey, error)
	GetAnswerKey(ctx context.Context, id uuid.UUID) (*grader.AnswerKey, error)
	IndexAnswerKey(ctx context.Context, id uuid.UUID, content *string) (*grader.IndexResult, error)
	SubmitStudentAnswer(ctx context.Context, req grader.SubmitStudentAnswerRequest) (*grader.StudentAnswer, error)
	Assess(ctx context.Context, studentAnswerID, answerKeyID uuid.UUID) (*grader.AssessmentResult, error)
}

var (
	errAnswerKeyRequired = errors.New("one of -answer-key-id or -answer-key-file is required")
	errMaxScoreRequired  = errors.New("-max-score must be positive when uploading an answer key")
	errNoAnswerColumn    = errors.New(`input has no "answer" column`)
)

var resultHeader = []string{
	"student_ref", "student_answer_id", "assessment_id", "score", "max_score",
	"confidence", "parse_status", "needs_review", "error",
}

func main() {
	os.Exit(execute(parseFlags(), os.Stdout, os.Stderr))
}

// execute runs the tool and returns the exit code. Files are closed before it returns.
func execute(cfg Config, stdout, stderr io.Writer) int {
	if cfg.FilePath == "" || (cfg.APIKey == "" && !cfg.DryRun) {
		fmt.Fprintln(stderr, "Error: -file and -api-key are required")
		flag.Usage()

		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(stderr, "Grading %s against %s\n", cfg.FilePath, cfg.APIBaseURL)

	stats, err := gradeFile(ctx, cfg, grader.NewClient(cfg.APIBaseURL, cfg.APIKey), stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)

		return 1
	}

	fmt.Fprintln(stderr)
	fmt.Fprintln(stderr, "Summary")
	fmt.Fprintf(stderr, "   Total rows:       %d\n", stats.TotalRows)
	fmt.Fprintf(stderr, "   Skipped (empty):  %d\n", stats.SkippedEmpty)
	fmt.Fprintf(stderr, "   Graded:           %d\n", stats.Graded)
	fmt.Fprintf(stderr, "   Needs review:     %d\n", stats.NeedsReview)
	fmt.Fprintf(stderr, "   Failed:           %d\n", stats.Failed)

	if stats.Failed > 0 {
		return 1
	}

	return 0
}

// gradeFile opens the input, writes results to cfg.OutPath (or stdout) and reports a failed
// close of the output file, since buffered rows may be lost there.
func gradeFile(ctx context.Context, cfg Config, client gradingClient, stdout, log io.Writer) (stats Stats, err error) {
	in, err := os.Open(cfg.FilePath)
	if err != nil {
		return stats, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = in.Close() }()

	if cfg.OutPath == "" {
		return run(ctx, cfg, client, in, stdout, log)
	}

	out, err := os.Create(cfg.OutPath)
	if err != nil {
		return stats, fmt.Errorf("create output: %w", err)
	}

	stats, err = run(ctx, cfg, client, in, out, log)

	if closeErr := out.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close output: %w", closeErr))
	}

	return stats, err
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.FilePath, "file", "", "Path to CSV file (required)")
	flag.StringVar(&cfg.OutPath, "out", "", "Path to result CSV (default stdout)")
	flag.StringVar(&cfg.APIBaseURL, "api-url", grader.DefaultBaseURL, "Grading API base URL")
	flag.StringVar(&cfg.APIKey, "api-key", "", "API key for authentication (required)")
	flag.StringVar(&cfg.AnswerKeyID, "answer-key-id", "", "ID of an existing answer key")
	flag.StringVar(&cfg.AnswerKeyFile, "answer-key-file", "", "Text file to upload as a new answer key")
	flag.IntVar(&cfg.MaxScore, "max-score", 0, "Maximum score of the uploaded answer key")
	flag.IntVar(&cfg.DelayMS, "delay", 0, "Delay in milliseconds between answers")
	flag.BoolVar(&cfg.DryRun, "dry-run", false, "Parse CSV but don't make API calls")

	flag.Parse()

	return cfg
}

func run(ctx context.Context, cfg Config, client gradingClient, in io.Reader, out, log io.Writer) (Stats, error) {
	stats := Stats{}

	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return stats, fmt.Errorf("read header: %w", err)
	}

	refCol, answerCol := columnIndex(header, "student_ref"), columnIndex(header, "answer")
	if answerCol < 0 {
		return stats, errNoAnswerColumn
	}

	var keyID uuid.UUID

	if !cfg.DryRun {
		key, err := resolveAnswerKey(ctx, cfg, client)
		if err != nil {
			return stats, err
		}

		res, err := client.IndexAnswerKey(ctx, key.ID, nil)
		if err != nil {
			return stats, fmt.Errorf("index answer key: %w", err)
		}

		fmt.Fprintf(log, "Answer key %s indexed (%d chunks)\n", key.ID, res.ChunkCount)

		keyID = key.ID
	}

	w := csv.NewWriter(out)
	if err := w.Write(resultHeader); err != nil {
		return stats, err
	}

	rowNum := 1

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		rowNum++

		if err != nil {
			fmt.Fprintf(log, "   Row %d: error reading: %v\n", rowNum, err)
			stats.Failed++

			continue
		}

		stats.TotalRows++

		ref := strings.TrimSpace(safeGet(row, refCol))
		answer := strings.TrimSpace(safeGet(row, answerCol))

		if answer == "" {
			stats.SkippedEmpty++

			continue
		}

		if cfg.DryRun {
			fmt.Fprintf(log, "   [DRY] Row %d: would grade answer of %q\n", rowNum, ref)
			stats.Graded++

			continue
		}

		if err := ctx.Err(); err != nil {
			w.Flush()

			return stats, err
		}

		record := gradeRow(ctx, client, keyID, ref, answer)
		if record[len(record)-1] != "" {
			fmt.Fprintf(log, "   Row %d (%s): %s\n", rowNum, ref, record[len(record)-1])
			stats.Failed++
		} else {
			stats.Graded++

			if record[7] == "true" {
				stats.NeedsReview++
			}
		}

		if err := w.Write(record); err != nil {
			return stats, err
		}

		if cfg.DelayMS > 0 {
			time.Sleep(time.Duration(cfg.DelayMS) * time.Millisecond)
		}
	}

	w.Flush()

	return stats, w.Error()
}

func resolveAnswerKey(ctx context.Context, cfg Config, client gradingClient) (*grader.AnswerKey, error) {
	switch {
	case cfg.AnswerKeyID != "":
		id, err := uuid.Parse(cfg.AnswerKeyID)
		if err != nil {
			return nil, fmt.Errorf("invalid -answer-key-id: %w", err)
		}

		return client.GetAnswerKey(ctx, id)
	case cfg.AnswerKeyFile != "":
		if cfg.MaxScore <= 0 {
			return nil, errMaxScoreRequired
		}

		content, err := os.ReadFile(cfg.AnswerKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read answer key: %w", err)
		}

		return client.CreateAnswerKey(ctx, grader.CreateAnswerKeyRequest{
			Title:    strings.TrimSuffix(filepath.Base(cfg.AnswerKeyFile), filepath.Ext(cfg.AnswerKeyFile)),
			Content:  string(content),
			MaxScore: cfg.MaxScore,
		})
	default:
		return nil, errAnswerKeyRequired
	}
}

// gradeRow submits and grades one answer. Failures are reported in the last column.
func gradeRow(ctx context.Context, client gradingClient, keyID uuid.UUID, ref, answer string) []string {
	record := make([]string, len(resultHeader))
	record[0] = ref

	submitted, err := client.SubmitStudentAnswer(ctx, grader.SubmitStudentAnswerRequest{StudentRef: ref, Content: answer})
	if err != nil {
		record[8] = err.Error()

		return record
	}

	record[1] = submitted.ID.String()

	res, err := client.Assess(ctx, submitted.ID, keyID)
	if err != nil {
		record[8] = err.Error()

		return record
	}

	record[2] = res.AssessmentID.String()
	record[3] = strconv.FormatFloat(res.Score, 'f', -1, 64)
	record[4] = strconv.Itoa(res.MaxScore)
	record[5] = strconv.FormatFloat(res.Confidence, 'f', -1, 64)
	record[6] = res.ParseStatus
	record[7] = strconv.FormatBool(res.NeedsReview)

	return record
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}

	return -1
}

func safeGet(row []string, index int) string {
	if index >= 0 && index < len(row) {
		return row[index]
	}

	return ""
}
