package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// RawTables lists every landing table under the raw schema.
var RawTables = []string{
	"raw_applications",
	"raw_push_stats",
	"raw_chat_stats",
	"raw_sms_stats",
	"raw_email_stats",
	"raw_inapp_stats",
	"raw_campaigns_api",
	"raw_contacts_api",
}

func isRawTable(name string) bool {
	for _, t := range RawTables {
		if t == name {
			return true
		}
	}
	return false
}

var rawTableDDL = []string{
	`CREATE TABLE IF NOT EXISTS raw.%[1]s (
    id             BIGSERIAL PRIMARY KEY,
    application_id TEXT,
    tenant_id      TEXT,
    endpoint       TEXT NOT NULL,
    loaded_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    date_from      DATE,
    date_to        DATE,
    source_data    JSONB NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_%[1]s_app ON raw.%[1]s (application_id)`,
	`CREATE INDEX IF NOT EXISTS idx_%[1]s_loaded ON raw.%[1]s (loaded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_%[1]s_endpoint ON raw.%[1]s (endpoint)`,
}

var rawSchemaDDL = []string{
	`CREATE SCHEMA IF NOT EXISTS raw`,
	`CREATE TABLE IF NOT EXISTS raw.extraction_log (
    id             BIGSERIAL PRIMARY KEY,
    application_id TEXT,
    tenant_id      TEXT,
    endpoint       TEXT NOT NULL,
    http_status    INTEGER NOT NULL DEFAULT 0,
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    error_message  TEXT,
    started_at     TIMESTAMPTZ NOT NULL,
    finished_at    TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_extraction_log_started ON raw.extraction_log (started_at)`,
}

// The normalized tables are owned by the reporting application; these statements only
// bootstrap an empty database with a compatible layout.
var normalizedSchemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS public.sync_state (
    id             SERIAL PRIMARY KEY,
    tenant_id      TEXT NOT NULL,
    entity         VARCHAR(50) NOT NULL,
    last_cursor    TEXT,
    last_sync_at   TIMESTAMPTZ,
    records_synced INTEGER,
    status         VARCHAR(20) NOT NULL DEFAULT 'pending',
    CONSTRAINT uq_sync_state_tenant_entity UNIQUE (tenant_id, entity)
)`,
	`ALTER TABLE public.sync_state ADD COLUMN IF NOT EXISTS last_error TEXT`,
	`CREATE TABLE IF NOT EXISTS public.daily_stats (
    id              SERIAL PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    date            DATE NOT NULL,
    total_messages  INTEGER NOT NULL,
    unique_contacts INTEGER NOT NULL,
    conversations   INTEGER NOT NULL,
    fallback_count  INTEGER NOT NULL DEFAULT 0,
    CONSTRAINT uq_daily_stats_tenant_date UNIQUE (tenant_id, date)
)`,
	`CREATE TABLE IF NOT EXISTS public.contacts (
    id                  SERIAL PRIMARY KEY,
    tenant_id           TEXT NOT NULL,
    contact_id          VARCHAR(100) NOT NULL,
    contact_name        VARCHAR(255),
    total_messages      INTEGER NOT NULL DEFAULT 0,
    first_contact       DATE,
    last_contact        DATE,
    total_conversations INTEGER NOT NULL DEFAULT 0,
    CONSTRAINT uq_contacts_tenant_cid UNIQUE (tenant_id, contact_id)
)`,
	`CREATE TABLE IF NOT EXISTS public.agents (
    id                      SERIAL PRIMARY KEY,
    tenant_id               TEXT NOT NULL,
    agent_id                VARCHAR(100) NOT NULL,
    total_messages          INTEGER NOT NULL DEFAULT 0,
    conversations_handled   INTEGER NOT NULL DEFAULT 0,
    avg_handle_time_seconds INTEGER,
    CONSTRAINT uq_agents_tenant_aid UNIQUE (tenant_id, agent_id)
)`,
	`CREATE TABLE IF NOT EXISTS public.messages (
    id                  SERIAL PRIMARY KEY,
    tenant_id           TEXT NOT NULL,
    message_id          VARCHAR(100) NOT NULL,
    timestamp           TIMESTAMPTZ NOT NULL,
    date                DATE NOT NULL,
    hour                SMALLINT NOT NULL,
    day_of_week         VARCHAR(10) NOT NULL,
    send_type           VARCHAR(30),
    direction           VARCHAR(20) NOT NULL,
    content_type        VARCHAR(30),
    status              VARCHAR(20),
    contact_name        VARCHAR(255),
    contact_id          VARCHAR(100),
    conversation_id     VARCHAR(100),
    agent_id            VARCHAR(100),
    close_reason        VARCHAR(100),
    intent              VARCHAR(200),
    is_fallback         BOOLEAN NOT NULL DEFAULT FALSE,
    message_body        TEXT,
    is_bot              BOOLEAN NOT NULL DEFAULT FALSE,
    is_human            BOOLEAN NOT NULL DEFAULT FALSE,
    wait_time_seconds   INTEGER,
    handle_time_seconds INTEGER,
    CONSTRAINT uq_messages_tenant_msg UNIQUE (tenant_id, message_id),
    CONSTRAINT fk_messages_contact FOREIGN KEY (tenant_id, contact_id)
        REFERENCES public.contacts (tenant_id, contact_id) ON DELETE SET NULL DEFERRABLE INITIALLY DEFERRED,
    CONSTRAINT fk_messages_agent FOREIGN KEY (tenant_id, agent_id)
        REFERENCES public.agents (tenant_id, agent_id) ON DELETE SET NULL DEFERRABLE INITIALLY DEFERRED,
    CONSTRAINT fk_messages_daily_stats FOREIGN KEY (tenant_id, date)
        REFERENCES public.daily_stats (tenant_id, date) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED
)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_tenant_date ON public.messages (tenant_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_contact ON public.messages (tenant_id, contact_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON public.messages (tenant_id, conversation_id)`,
	`CREATE TABLE IF NOT EXISTS public.chat_conversations (
    id                      SERIAL PRIMARY KEY,
    tenant_id               TEXT NOT NULL,
    session_id              VARCHAR(100) NOT NULL,
    conversation_session_id VARCHAR(100),
    contact_id              VARCHAR(100),
    agent_id                VARCHAR(100),
    agent_email             VARCHAR(255),
    channel                 VARCHAR(30),
    queued_at               TIMESTAMPTZ,
    assigned_at             TIMESTAMPTZ,
    closed_at               TIMESTAMPTZ,
    initial_session_id      VARCHAR(100),
    wait_time_seconds       INTEGER,
    handle_time_seconds     INTEGER,
    CONSTRAINT uq_chat_conv_tenant_sid UNIQUE (tenant_id, session_id)
)`,
	`CREATE TABLE IF NOT EXISTS public.chat_channels (
    id           SERIAL PRIMARY KEY,
    tenant_id    TEXT NOT NULL,
    channel_id   VARCHAR(100) NOT NULL,
    channel_type VARCHAR(30),
    channel_name VARCHAR(255),
    phone_number VARCHAR(50),
    status       VARCHAR(20),
    config       JSONB,
    CONSTRAINT uq_chat_channels_tenant_chid UNIQUE (tenant_id, channel_id)
)`,
	`CREATE TABLE IF NOT EXISTS public.chat_topics (
    id          SERIAL PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    topic_id    VARCHAR(100) NOT NULL,
    topic_name  VARCHAR(255),
    description TEXT,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    CONSTRAINT uq_chat_topics_tenant_tid UNIQUE (tenant_id, topic_id)
)`,
	`CREATE TABLE IF NOT EXISTS public.toques_daily (
    id              SERIAL PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    date            DATE NOT NULL,
    canal           VARCHAR(30) NOT NULL,
    proyecto_cuenta VARCHAR(100) NOT NULL,
    enviados        INTEGER NOT NULL DEFAULT 0,
    entregados      INTEGER NOT NULL DEFAULT 0,
    clicks          INTEGER NOT NULL DEFAULT 0,
    chunks          INTEGER NOT NULL DEFAULT 0,
    usuarios_unicos INTEGER NOT NULL DEFAULT 0,
    abiertos        INTEGER,
    rebotes         INTEGER,
    bloqueados      INTEGER,
    spam            INTEGER,
    desuscritos     INTEGER,
    conversiones    INTEGER,
    ctr             NUMERIC(6, 2),
    tasa_entrega    NUMERIC(6, 2),
    open_rate       NUMERIC(6, 2),
    conversion_rate NUMERIC(6, 2),
    CONSTRAINT uq_toques_daily_composite UNIQUE (tenant_id, date, canal, proyecto_cuenta),
    CONSTRAINT fk_toques_daily_daily_stats FOREIGN KEY (tenant_id, date)
        REFERENCES public.daily_stats (tenant_id, date) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED
)`,
	`CREATE TABLE IF NOT EXISTS public.toques_heatmap (
    id           SERIAL PRIMARY KEY,
    tenant_id    TEXT NOT NULL,
    canal        VARCHAR(30) NOT NULL,
    dia_semana   VARCHAR(12) NOT NULL,
    hora         SMALLINT NOT NULL,
    enviados     INTEGER NOT NULL DEFAULT 0,
    clicks       INTEGER NOT NULL DEFAULT 0,
    abiertos     INTEGER,
    conversiones INTEGER,
    ctr          NUMERIC(6, 2),
    dia_orden    SMALLINT NOT NULL,
    CONSTRAINT uq_toques_heatmap_composite UNIQUE (tenant_id, canal, dia_semana, hora)
)`,
	`CREATE TABLE IF NOT EXISTS public.campaigns (
    id                 SERIAL PRIMARY KEY,
    tenant_id          TEXT NOT NULL,
    campana_id         VARCHAR(100) NOT NULL,
    campana_nombre     VARCHAR(255) NOT NULL,
    canal              VARCHAR(30) NOT NULL,
    proyecto_cuenta    VARCHAR(100) NOT NULL,
    tipo_campana       VARCHAR(50),
    total_enviados     INTEGER NOT NULL DEFAULT 0,
    total_entregados   INTEGER NOT NULL DEFAULT 0,
    total_clicks       INTEGER NOT NULL DEFAULT 0,
    total_chunks       INTEGER NOT NULL DEFAULT 0,
    fecha_inicio       DATE,
    fecha_fin          DATE,
    total_abiertos     INTEGER,
    total_rebotes      INTEGER,
    total_bloqueados   INTEGER,
    total_spam         INTEGER,
    total_desuscritos  INTEGER,
    total_conversiones INTEGER,
    ctr                NUMERIC(6, 2),
    tasa_entrega       NUMERIC(6, 2),
    open_rate          NUMERIC(6, 2),
    conversion_rate    NUMERIC(6, 2),
    CONSTRAINT uq_campaigns_tenant_cid UNIQUE (tenant_id, campana_id)
)`,
	`CREATE TABLE IF NOT EXISTS public.toques_usuario (
    id              SERIAL PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    telefono        VARCHAR(50) NOT NULL,
    canal           VARCHAR(30) NOT NULL,
    proyecto_cuenta VARCHAR(100) NOT NULL,
    total_toques    INTEGER NOT NULL,
    total_clicks    INTEGER NOT NULL,
    primer_toque    DATE,
    ultimo_toque    DATE,
    dias_activos    INTEGER NOT NULL DEFAULT 0,
    CONSTRAINT uq_toques_usuario_composite UNIQUE (tenant_id, telefono, canal, proyecto_cuenta)
)`,
}

// SchemaStatements returns the full bootstrap DDL in execution order.
func SchemaStatements() []string {
	statements := make([]string, 0, len(rawSchemaDDL)+len(RawTables)*len(rawTableDDL)+len(normalizedSchemaDDL))
	statements = append(statements, rawSchemaDDL...)
	for _, table := range RawTables {
		for _, tmpl := range rawTableDDL {
			statements = append(statements, fmt.Sprintf(tmpl, table))
		}
	}
	statements = append(statements, normalizedSchemaDDL...)
	return statements
}

// Migrate creates every schema object that is missing. It is safe to run repeatedly.
func (c *Client) Migrate(ctx context.Context) error {
	return c.InTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range SchemaStatements() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return errors.Wrapf(err, "failed to apply schema statement %q", firstLine(stmt))
			}
		}
		return nil
	})
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
