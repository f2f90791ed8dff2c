package settings

import (
	"context"
	"database/sql"
	"fmt"

	"goldwatch/internal/gold"
)

// Setting names for the two persisted records: one URL per source, plus the
// cron enabled flag and expression.
const (
	keyURLCCB         = "scrape_url_ccb"
	keyURLCMB         = "scrape_url_cmb"
	keyCronEnabled    = "cron_enabled"
	keyCronExpression = "cron_expression"
)

const (
	defaultURLCCB = "https://lsjr.ccb.com/msmp/ecpweb/page/internet/dist/preciousMetalsDetail.html?CCB_EmpID=71693716&PM_PD_ID=261108522&Org_Inst_Rgon_Cd=JS&page=preciousMetalsDetail"
	defaultURLCMB = "https://mobile.cmbchina.com/IGoldSilver/goldsilver/product-detail.html?behavior_ShareIDTyp=1&behavior_FwTraceID=193c4468f8046c5adc0e8e64b9665fd2&behavior_FwChannel=APP&BbkNbr=125&SplCod=FJ067&PrdTyp=GLD&PrdCod=GLD0035&PrdStd=K0010&RcmID=&accountUid=&IsChangeJump=&accumulateFlag=&orderDetailFlag=&fromAttentionList=&ZxlCod=XL0101"
)

// DefaultURL is the compiled-in page URL for a source, used to seed the
// settings table and as the scrape pipeline's fallback when the settings
// store is unreachable.
func DefaultURL(source gold.Source) string {
	if source == gold.SourceCMB {
		return defaultURLCMB
	}
	return defaultURLCCB
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ScraperURLs returns the configured page URL per source. Missing entries
// fall back to the compiled-in defaults and are seeded into the table so
// they show up in the settings UI.
func (r *Repository) ScraperURLs(ctx context.Context) (map[gold.Source]string, error) {
	urls := map[gold.Source]string{
		gold.SourceCCB: defaultURLCCB,
		gold.SourceCMB: defaultURLCMB,
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT name, value FROM settings WHERE name IN (?, ?)`, keyURLCCB, keyURLCMB)
	if err != nil {
		return nil, fmt.Errorf("get scraper urls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		if value == "" {
			continue
		}
		switch name {
		case keyURLCCB:
			urls[gold.SourceCCB] = value
		case keyURLCMB:
			urls[gold.SourceCMB] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for key, source := range map[string]gold.Source{keyURLCCB: gold.SourceCCB, keyURLCMB: gold.SourceCMB} {
		if err := r.seed(ctx, key, urls[source]); err != nil {
			return nil, err
		}
	}

	return urls, nil
}

func (r *Repository) SetScraperURLs(ctx context.Context, urls map[gold.Source]string) error {
	if err := r.upsert(ctx, keyURLCCB, urls[gold.SourceCCB]); err != nil {
		return err
	}
	return r.upsert(ctx, keyURLCMB, urls[gold.SourceCMB])
}

// CronConfig reads the persisted schedule: whether it is enabled and the
// cron expression, which may be empty when never configured.
func (r *Repository) CronConfig(ctx context.Context) (enabled bool, expression string, err error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, value FROM settings WHERE name IN (?, ?)`, keyCronEnabled, keyCronExpression)
	if err != nil {
		return false, "", fmt.Errorf("get cron config: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return false, "", fmt.Errorf("scan setting: %w", err)
		}
		switch name {
		case keyCronEnabled:
			enabled = value == "true"
		case keyCronExpression:
			expression = value
		}
	}
	return enabled, expression, rows.Err()
}

func (r *Repository) SaveCronConfig(ctx context.Context, enabled bool, expression string) error {
	value := "false"
	if enabled {
		value = "true"
	}
	if err := r.upsert(ctx, keyCronEnabled, value); err != nil {
		return err
	}
	return r.upsert(ctx, keyCronExpression, expression)
}

func (r *Repository) upsert(ctx context.Context, name, value string) error {
	const query = `INSERT INTO settings (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`
	if _, err := r.db.ExecContext(ctx, query, name, value); err != nil {
		return fmt.Errorf("upsert setting %s: %w", name, err)
	}
	return nil
}

func (r *Repository) seed(ctx context.Context, name, value string) error {
	const query = `INSERT INTO settings (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, name, value); err != nil {
		return fmt.Errorf("seed setting %s: %w", name, err)
	}
	return nil
}
