package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campus-analytics/curate-cli/internal/curate"
	"github.com/campus-analytics/curate-cli/internal/curate/entity"
)

var (
	ingestEntity string
	ingestFile   string
	ingestSource string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest --entity <name> --file <extract.jsonl>",
	Short: "Land raw records from a JSONL extract",
	Long: `Lands one raw record per line of a JSONL extract into the entity's
landing table. Records land as PENDING and are untouched until a merge
claims them; lines that are not valid JSON objects are rejected up front.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "ingest"))

		ent, err := entity.NewRegistry().Get(ingestEntity)
		if err != nil {
			return err
		}

		records, skipped, err := readJSONL(ingestFile, ingestSource)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No records to ingest")
			return nil
		}

		pool, err := curatePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := curate.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "ingest: migrate")
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return eris.Wrap(err, "ingest: begin tx")
		}
		defer tx.Rollback(ctx)

		n, err := curate.RawStore{}.Append(ctx, tx, ent.RawTable(), records)
		if err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return eris.Wrap(err, "ingest: commit")
		}

		log.Info("ingest complete",
			zap.String("entity", ingestEntity),
			zap.String("file", ingestFile),
			zap.Int64("landed", n),
			zap.Int("skipped", skipped),
		)
		fmt.Printf("Landed %d records into %s (%d lines skipped)\n", n, ent.RawTable(), skipped)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestEntity, "entity", "", "entity to land records for (e.g., students)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to the JSONL extract")
	ingestCmd.Flags().StringVar(&ingestSource, "source-system", "canvas", "source system recorded on each landed record")
	_ = ingestCmd.MarkFlagRequired("entity")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}

// readJSONL reads one raw record per line, skipping blank lines. Lines that
// are not JSON objects count as skipped rather than failing the whole file.
func readJSONL(path, source string) ([]curate.RawRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close()

	fileName := filepath.Base(path)
	log := zap.L().With(zap.String("command", "ingest"))

	var records []curate.RawRecord
	skipped := 0
	lineNo := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(line, &obj); err != nil {
			log.Warn("skipping malformed line",
				zap.Int("line", lineNo),
				zap.Error(err),
			)
			skipped++
			continue
		}

		payload := make([]byte, len(line))
		copy(payload, line)
		records = append(records, curate.RawRecord{
			RawID:        uuid.NewString(),
			Payload:      payload,
			SourceSystem: source,
			FileName:     fileName,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, eris.Wrapf(err, "ingest: read %s", path)
	}

	return records, skipped, nil
}
