package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaDDL is the full relational schema. It is idempotent so cmd/migrate
// can run on every deploy. The %d placeholder is the aggregation window in
// days.
const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS btree_gin;

CREATE TABLE IF NOT EXISTS companies (
    id   BIGSERIAL PRIMARY KEY,
    code VARCHAR(63) NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS message_groups (
    id         BIGSERIAL PRIMARY KEY,
    uuid       VARCHAR(63) NOT NULL UNIQUE,
    company_id BIGINT NOT NULL REFERENCES companies(id) ON DELETE RESTRICT,
    method     VARCHAR(31) NOT NULL,
    created_ts TIMESTAMPTZ NOT NULL DEFAULT now(),
    from_email TEXT NOT NULL DEFAULT '',
    from_name  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS message_groups_company_method_idx
    ON message_groups (company_id, method);

CREATE TABLE IF NOT EXISTS messages (
    id            BIGSERIAL PRIMARY KEY,
    external_id   TEXT NOT NULL DEFAULT '',
    group_id      BIGINT NOT NULL REFERENCES message_groups(id) ON DELETE CASCADE,
    company_id    BIGINT NOT NULL REFERENCES companies(id) ON DELETE RESTRICT,
    method        VARCHAR(31) NOT NULL,
    send_ts       TIMESTAMPTZ NOT NULL DEFAULT now(),
    update_ts     TIMESTAMPTZ NOT NULL DEFAULT now(),
    status        VARCHAR(31) NOT NULL,
    to_first_name TEXT NOT NULL DEFAULT '',
    to_last_name  TEXT NOT NULL DEFAULT '',
    to_user_link  TEXT NOT NULL DEFAULT '',
    to_address    TEXT NOT NULL,
    tags          TEXT[] NOT NULL DEFAULT '{}',
    subject       TEXT NOT NULL DEFAULT '',
    body          TEXT NOT NULL DEFAULT '',
    attachments   TEXT[] NOT NULL DEFAULT '{}',
    cost          NUMERIC(12,6),
    extra         JSONB NOT NULL DEFAULT '{}',
    vector        tsvector
);

CREATE INDEX IF NOT EXISTS messages_method_company_id_idx
    ON messages (method, company_id, id);
CREATE INDEX IF NOT EXISTS messages_update_ts_idx
    ON messages (update_ts DESC);
CREATE INDEX IF NOT EXISTS messages_external_id_idx
    ON messages (method, external_id);
CREATE INDEX IF NOT EXISTS messages_tags_gin_idx
    ON messages USING GIN (tags, method, company_id);
CREATE INDEX IF NOT EXISTS messages_vector_gin_idx
    ON messages USING GIN (vector, method, company_id);

CREATE TABLE IF NOT EXISTS events (
    id         BIGSERIAL PRIMARY KEY,
    message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    status     VARCHAR(31) NOT NULL,
    ts         TIMESTAMPTZ NOT NULL,
    extra      JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS events_message_id_idx ON events (message_id);

CREATE TABLE IF NOT EXISTS links (
    id         BIGSERIAL PRIMARY KEY,
    message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    token      VARCHAR(31) NOT NULL,
    url        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS links_token_idx ON links (token);

-- update_message folds a freshly inserted event into its message row. The
-- strict ts comparison makes out-of-order webhook arrivals converge on the
-- event with the greatest ts.
CREATE OR REPLACE FUNCTION update_message() RETURNS trigger AS $$
BEGIN
    UPDATE messages
       SET update_ts = NEW.ts, status = NEW.status
     WHERE id = NEW.message_id AND update_ts < NEW.ts;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS events_update_message ON events;
CREATE TRIGGER events_update_message
    AFTER INSERT ON events
    FOR EACH ROW EXECUTE FUNCTION update_message();

-- set_message_vector recomputes the weighted search vector on insert.
CREATE OR REPLACE FUNCTION set_message_vector() RETURNS trigger AS $$
BEGIN
    NEW.vector :=
        setweight(to_tsvector('simple', NEW.external_id), 'A') ||
        setweight(to_tsvector('simple',
            NEW.to_first_name || ' ' || NEW.to_last_name || ' ' ||
            NEW.to_user_link || ' ' || NEW.to_address), 'A') ||
        setweight(to_tsvector('simple', NEW.subject), 'B') ||
        setweight(to_tsvector('simple', array_to_string(NEW.tags, ' ')), 'B') ||
        setweight(to_tsvector('simple', array_to_string(NEW.attachments, ' ')), 'C') ||
        setweight(to_tsvector('simple', NEW.body), 'D');
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS messages_set_vector ON messages;
CREATE TRIGGER messages_set_vector
    BEFORE INSERT ON messages
    FOR EACH ROW EXECUTE FUNCTION set_message_vector();
`

const aggregationDDL = `
CREATE MATERIALIZED VIEW IF NOT EXISTS message_aggregation AS
SELECT company_id, method, status, date(send_ts) AS date, count(*) AS count
  FROM messages
 WHERE send_ts > now() - interval '%d days'
 GROUP BY company_id, method, status, date(send_ts);

CREATE UNIQUE INDEX IF NOT EXISTS message_aggregation_key_idx
    ON message_aggregation (company_id, method, status, date);
`

// Migrate applies the schema. aggregationDays bounds the materialized
// aggregation view's window.
func Migrate(ctx context.Context, db *sql.DB, aggregationDays int) error {
	if aggregationDays <= 0 {
		aggregationDays = 90
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(aggregationDDL, aggregationDays)); err != nil {
		return fmt.Errorf("applying aggregation view: %w", err)
	}
	return nil
}
