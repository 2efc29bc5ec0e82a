package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/essaygrader/hub/internal/repository"
	"github.com/essaygrader/hub/internal/service"
)

var errUnknownKind = errors.New(`document kind must be "answer-key" or "student-answer"`)

// documentIndexer is the part of the indexing service the commands use.
type documentIndexer interface {
	IndexDocument(ctx context.Context, role service.OwnerRole, id uuid.UUID) (*service.IndexResult, error)
	EnqueueIndexing(ctx context.Context, role service.OwnerRole, id uuid.UUID) (int64, error)
}

// idLister lists stored document IDs.
type idLister interface {
	ListIDs(ctx context.Context, unindexedOnly bool) ([]uuid.UUID, error)
}

func parseKind(kind string) (service.OwnerRole, error) {
	switch kind {
	case "answer-key", "answer-keys":
		return service.RoleAnswerKey, nil
	case "student-answer", "student-answers":
		return service.RoleStudentAnswer, nil
	default:
		return "", fmt.Errorf("%w: got %q", errUnknownKind, kind)
	}
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))

	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", arg, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// indexAll indexes or enqueues every id and keeps going after a failure. The returned error
// joins all failures.
func indexAll(ctx context.Context, out io.Writer, indexer documentIndexer, role service.OwnerRole, ids []uuid.UUID, async bool) error {
	var errs []error

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}

		if async {
			jobID, err := indexer.EnqueueIndexing(ctx, role, id)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", role, id, err))

				continue
			}

			fmt.Fprintf(out, "%s %s: enqueued job %d\n", role, id, jobID)

			continue
		}

		res, err := indexer.IndexDocument(ctx, role, id)
		if err != nil {
			slog.ErrorContext(ctx, "indexing failed", "role", role, "id", id, "error", err)
			errs = append(errs, fmt.Errorf("%s %s: %w", role, id, err))

			continue
		}

		suffix := ""
		if res.Resumed {
			suffix = " (resumed)"
		}

		fmt.Fprintf(out, "%s %s: %d chunks%s\n", role, id, res.ChunkCount, suffix)
	}

	return errors.Join(errs...)
}

func newIndexCmd(c *cli) *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:       "index answer-key|student-answer <id>...",
		Short:     "Index stored documents by id",
		Args:      cobra.MinimumNArgs(2),
		ValidArgs: []string{"answer-key", "student-answer"},
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseKind(args[0])
			if err != nil {
				return err
			}

			ids, err := parseIDs(args[1:])
			if err != nil {
				return err
			}

			services, err := c.servicesFor(cmd.Context(), async)
			if err != nil {
				return err
			}

			return indexAll(cmd.Context(), c.out, services.Indexing, role, ids, async)
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "enqueue indexing jobs instead of indexing inline")

	return cmd
}

func newReindexCmd(c *cli) *cobra.Command {
	var (
		async bool
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "reindex answer-keys|student-answers",
		Short: "Index every stored document of one kind that has not finished indexing",
		Long: "Index every stored document of one kind that has not finished indexing.\n" +
			"With --all, documents that are already indexed are re-indexed too.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"answer-keys", "student-answers"},
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseKind(args[0])
			if err != nil {
				return err
			}

			var lister idLister = repository.NewAnswerKeysRepository(c.db)
			if role == service.RoleStudentAnswer {
				lister = repository.NewStudentAnswersRepository(c.db)
			}

			services, err := c.servicesFor(cmd.Context(), async)
			if err != nil {
				return err
			}

			return reindex(cmd.Context(), c.out, lister, services.Indexing, role, all, async)
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "enqueue indexing jobs instead of indexing inline")
	cmd.Flags().BoolVar(&all, "all", false, "include documents that are already indexed")

	return cmd
}

func reindex(
	ctx context.Context, out io.Writer, lister idLister, indexer documentIndexer,
	role service.OwnerRole, all, async bool,
) error {
	ids, err := lister.ListIDs(ctx, !all)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		_, err := fmt.Fprintf(out, "nothing to index for %s\n", role)

		return err
	}

	slog.InfoContext(ctx, "reindexing", "role", role, "count", len(ids), "async", async)

	return indexAll(ctx, out, indexer, role, ids, async)
}
