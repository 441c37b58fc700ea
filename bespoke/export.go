package bespoke

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// Profile export
// ---------------------------------------------------------------------------

type exportState struct {
	once    sync.Once
	started bool
	wg      sync.WaitGroup
	err     error
}

const exportSchema = `
CREATE TABLE IF NOT EXISTS sources (
	key            TEXT PRIMARY KEY,
	op             TEXT NOT NULL,
	layout         TEXT NOT NULL,
	sample_count   INTEGER NOT NULL,
	logging_arrays INTEGER NOT NULL,
	total_events   INTEGER NOT NULL,
	weight         REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS source_events (
	source TEXT NOT NULL,
	event  TEXT NOT NULL,
	count  INTEGER NOT NULL,
	PRIMARY KEY (source, event)
);
CREATE TABLE IF NOT EXISTS source_entry_types (
	source TEXT NOT NULL,
	before TEXT NOT NULL,
	after  TEXT NOT NULL,
	count  INTEGER NOT NULL,
	PRIMARY KEY (source, before, after)
);
CREATE TABLE IF NOT EXISTS sinks (
	trans     INTEGER NOT NULL,
	site      TEXT NOT NULL,
	layout    TEXT NOT NULL,
	sampled   INTEGER NOT NULL,
	unsampled INTEGER NOT NULL,
	PRIMARY KEY (trans, site)
);
CREATE TABLE IF NOT EXISTS sink_sources (
	trans  INTEGER NOT NULL,
	site   TEXT NOT NULL,
	source TEXT NOT NULL,
	count  INTEGER NOT NULL,
	PRIMARY KEY (trans, site, source)
)`

// StartExportProfiles writes every profile to the export database in the
// background and then releases the profiles' data. It runs at most once,
// and only after layouts have been selected. Without an export path the
// data is released without being written.
func (s *Session) StartExportProfiles() bool {
	if s.State() != StateFrozen {
		log.Warningf("not exporting profiles: session is %s", s.State())
		return false
	}
	s.export.once.Do(func() {
		s.export.started = true
		s.export.wg.Add(1)
		go func() {
			defer s.export.wg.Done()
			if path := s.cfg.ExportPath(); path != "" {
				if err := s.exportProfiles(path); err != nil {
					log.Errorf("profile export failed: %s", err)
					s.export.err = err
				} else {
					log.Noticef("exported %d sources and %d sinks to %s", s.CountSources(), s.CountSinks(), path)
				}
			}
			s.EachSource(func(p *LoggingProfile) { p.releaseData() })
			s.EachSink(func(sp *SinkProfile) { sp.releaseData() })
		}()
	})
	return s.export.started
}

// WaitOnExportProfiles blocks until a started export has finished and
// returns its error.
func (s *Session) WaitOnExportProfiles() error {
	s.export.wg.Wait()
	return s.export.err
}

// OpenExportDB opens (creating if needed) a profile export database.
func OpenExportDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(exportSchema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return db, nil
}

func (s *Session) exportProfiles(path string) error {
	db, err := OpenExportDB(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return s.WriteProfiles(db)
}

// WriteProfiles stores every source and sink profile in db, replacing
// rows with the same keys.
func (s *Session) WriteProfiles(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var werr error
	s.EachSource(func(p *LoggingProfile) {
		if werr == nil {
			werr = writeSource(tx, p)
		}
	})
	s.EachSink(func(sp *SinkProfile) {
		if werr == nil {
			werr = writeSink(tx, sp)
		}
	})
	if werr != nil {
		return werr
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing profiles: %w", err)
	}
	return nil
}

func writeSource(tx *sql.Tx, p *LoggingProfile) error {
	key := p.Key.String()
	_, err := tx.Exec(
		"INSERT OR REPLACE INTO sources (key, op, layout, sample_count, logging_arrays, total_events, weight) VALUES (?, ?, ?, ?, ?, ?, ?)",
		key, p.Key.Op().String(), p.layout.Describe(), int64(p.SampleCount()), int64(p.LoggingArraysEmitted()),
		int64(p.TotalEvents()), p.ProfileWeight(),
	)
	if err != nil {
		return fmt.Errorf("saving source %s: %w", key, err)
	}
	for _, e := range p.Events() {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO source_events (source, event, count) VALUES (?, ?, ?)",
			key, e.Key.String(), int64(e.Count),
		)
		if err != nil {
			return fmt.Errorf("saving events of %s: %w", key, err)
		}
	}
	for _, et := range p.EntryTypes() {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO source_entry_types (source, before, after, count) VALUES (?, ?, ?, ?)",
			key, et.Transition.Before().String(), et.Transition.After().String(), int64(et.Count),
		)
		if err != nil {
			return fmt.Errorf("saving entry types of %s: %w", key, err)
		}
	}
	return nil
}

func writeSink(tx *sql.Tx, sp *SinkProfile) error {
	site := sp.Key.SrcKey.String()
	_, err := tx.Exec(
		"INSERT OR REPLACE INTO sinks (trans, site, layout, sampled, unsampled) VALUES (?, ?, ?, ?, ?)",
		int64(sp.Key.Trans), site, sp.layout.Describe(), int64(sp.SampledCount()), int64(sp.UnsampledCount()),
	)
	if err != nil {
		return fmt.Errorf("saving sink %s: %w", sp.Key, err)
	}
	for _, sc := range sp.Sources() {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO sink_sources (trans, site, source, count) VALUES (?, ?, ?, ?)",
			int64(sp.Key.Trans), site, sourceName(sc.Source), int64(sc.Count),
		)
		if err != nil {
			return fmt.Errorf("saving sources of sink %s: %w", sp.Key, err)
		}
	}
	return nil
}

// SourceSummary is one row of an export database's sources table.
type SourceSummary struct {
	Key         string
	Op          string
	Layout      string
	SampleCount int64
	LoggingArrs int64
	TotalEvents int64
	Weight      float64
}

// ReadSourceSummaries lists the exported sources, heaviest first.
func ReadSourceSummaries(db *sql.DB) ([]SourceSummary, error) {
	rows, err := db.Query("SELECT key, op, layout, sample_count, logging_arrays, total_events, weight FROM sources ORDER BY weight DESC, key")
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var out []SourceSummary
	for rows.Next() {
		var s SourceSummary
		if err := rows.Scan(&s.Key, &s.Op, &s.Layout, &s.SampleCount, &s.LoggingArrs, &s.TotalEvents, &s.Weight); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
