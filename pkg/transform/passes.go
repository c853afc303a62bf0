package transform

// Pass recomputes derived aggregates from the normalized base tables. Passes run after every
// table transform, each in its own transaction.
type Pass struct {
	Name  string
	Table string
	SQL   string
}

// Passes returns the recompute passes in execution order.
func Passes() []Pass {
	return []Pass{
		{
			Name:  "daily_stats_from_toques",
			Table: "daily_stats",
			SQL: `UPDATE public.daily_stats ds SET
    total_messages = GREATEST(ds.total_messages, sub.total_enviados)
FROM (
    SELECT tenant_id, date, COALESCE(SUM(enviados), 0) AS total_enviados
    FROM public.toques_daily
    GROUP BY tenant_id, date
) sub
WHERE ds.tenant_id = sub.tenant_id AND ds.date = sub.date`,
		},
		{
			Name:  "daily_stats_from_messages",
			Table: "daily_stats",
			SQL: `WITH msg_stats AS (
    SELECT
        tenant_id,
        date,
        COUNT(*) AS total_messages,
        COUNT(DISTINCT contact_id) AS unique_contacts,
        COUNT(DISTINCT conversation_id) FILTER (WHERE conversation_id IS NOT NULL) AS conversations,
        COUNT(*) FILTER (WHERE is_fallback) AS fallback_count
    FROM public.messages
    GROUP BY tenant_id, date
)
INSERT INTO public.daily_stats (tenant_id, date, total_messages, unique_contacts, conversations, fallback_count)
SELECT tenant_id, date, total_messages, unique_contacts, conversations, fallback_count
FROM msg_stats
ON CONFLICT (tenant_id, date) DO UPDATE SET
    total_messages  = GREATEST(daily_stats.total_messages, EXCLUDED.total_messages),
    unique_contacts = GREATEST(daily_stats.unique_contacts, EXCLUDED.unique_contacts),
    conversations   = GREATEST(daily_stats.conversations, EXCLUDED.conversations),
    fallback_count  = GREATEST(daily_stats.fallback_count, EXCLUDED.fallback_count)`,
		},
		{
			Name:  "agents_from_conversations",
			Table: "agents",
			SQL: `WITH agent_stats AS (
    SELECT
        tenant_id,
        agent_id,
        COUNT(*) AS conversations_handled,
        AVG(handle_time_seconds) FILTER (WHERE handle_time_seconds IS NOT NULL) AS avg_handle
    FROM public.chat_conversations
    WHERE agent_id IS NOT NULL
    GROUP BY tenant_id, agent_id
)
INSERT INTO public.agents (tenant_id, agent_id, total_messages, conversations_handled, avg_handle_time_seconds)
SELECT tenant_id, agent_id, 0, conversations_handled, avg_handle::int
FROM agent_stats
ON CONFLICT (tenant_id, agent_id) DO UPDATE SET
    conversations_handled   = EXCLUDED.conversations_handled,
    avg_handle_time_seconds = EXCLUDED.avg_handle_time_seconds`,
		},
		{
			Name:  "contacts_from_messages",
			Table: "contacts",
			SQL: `WITH contact_stats AS (
    SELECT
        tenant_id,
        contact_id,
        COUNT(*) AS total_messages,
        COUNT(DISTINCT conversation_id) FILTER (WHERE conversation_id IS NOT NULL) AS total_conversations
    FROM public.messages
    WHERE contact_id IS NOT NULL
    GROUP BY tenant_id, contact_id
)
UPDATE public.contacts c SET
    total_messages      = cs.total_messages,
    total_conversations = cs.total_conversations
FROM contact_stats cs
WHERE c.tenant_id = cs.tenant_id AND c.contact_id = cs.contact_id`,
		},
		{
			Name:  "agents_from_messages",
			Table: "agents",
			SQL: `WITH agent_msg_stats AS (
    SELECT tenant_id, agent_id, COUNT(*) AS total_messages
    FROM public.messages
    WHERE agent_id IS NOT NULL
    GROUP BY tenant_id, agent_id
)
UPDATE public.agents a SET
    total_messages = ams.total_messages
FROM agent_msg_stats ams
WHERE a.tenant_id = ams.tenant_id AND a.agent_id = ams.agent_id`,
		},
	}
}
