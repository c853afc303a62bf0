package transform

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/toques-bi/toques/pkg/date"
	"github.com/toques-bi/toques/pkg/payload"
	"github.com/toques-bi/toques/pkg/postgres"
)

const (
	messagesEndpoint      = "/v1/chat/history/csv"
	conversationsEndpoint = "/v1/chat/agent/conversations"
	channelsEndpoint      = "/v1/chat/channel"
	topicsEndpoint        = "/v1/chat/topic"

	// DefaultProjectAccount is used for campaigns that do not name their application.
	DefaultProjectAccount = "100274"
)

// Table describes how one normalized table is derived from a raw table.
type Table struct {
	Name   string
	Source string
	Match  postgres.EndpointMatch
	// Keys is the natural key, tenant_id first.
	Keys    []string
	Columns []Column
	Flatten func(raw postgres.RawRow) []Row
	Parents []Parent
	// DependsOn lists tables that must be transformed first.
	DependsOn []string
	// LatestOnly restricts the input to the most recently landed document per tenant.
	LatestOnly bool
}

func (t Table) statement() string {
	return upsertStatement(t.Name, t.Keys, t.Columns)
}

func overwrite(names ...string) []Column {
	cols := make([]Column, 0, len(names))
	for _, n := range names {
		cols = append(cols, Column{Name: n})
	}
	return cols
}

var dailyStatsParent = Parent{
	Table:   "daily_stats",
	Columns: []string{"tenant_id", "date"},
	Zeroes:  []string{"total_messages", "unique_contacts", "conversations"},
}

// Tables returns the normalized tables in their declared order.
func Tables() []Table {
	return []Table{
		{
			Name:   "contacts",
			Source: "raw_contacts_api",
			Keys:   []string{"tenant_id", "contact_id"},
			Columns: []Column{
				{Name: "contact_name"},
				{Name: "total_messages", Policy: InsertOnly},
				{Name: "first_contact", Policy: Least},
				{Name: "last_contact", Policy: Greatest},
				{Name: "total_conversations", Policy: InsertOnly},
			},
			Flatten: flattenContacts,
		},
		{
			Name:   "daily_stats",
			Source: "raw_push_stats",
			Match:  postgres.EndpointMatch{Contains: "/dateStats"},
			Keys:   []string{"tenant_id", "date"},
			Columns: []Column{
				{Name: "total_messages", Policy: InsertOnly},
				{Name: "unique_contacts", Policy: InsertOnly},
				{Name: "conversations", Policy: InsertOnly},
				{Name: "fallback_count", Policy: InsertOnly},
			},
			Flatten: flattenDailyStats,
		},
		{
			Name:   "toques_daily",
			Source: "raw_push_stats",
			Match:  postgres.EndpointMatch{Contains: "/dateStats"},
			Keys:   []string{"tenant_id", "date", "canal", "proyecto_cuenta"},
			Columns: append(
				overwrite("enviados", "entregados", "clicks", "abiertos", "ctr", "tasa_entrega", "open_rate"),
				Column{Name: "chunks", Policy: InsertOnly},
				Column{Name: "usuarios_unicos", Policy: InsertOnly},
				Column{Name: "rebotes", Policy: InsertOnly},
				Column{Name: "bloqueados", Policy: InsertOnly},
				Column{Name: "spam", Policy: InsertOnly},
				Column{Name: "desuscritos", Policy: InsertOnly},
				Column{Name: "conversiones", Policy: InsertOnly},
				Column{Name: "conversion_rate", Policy: InsertOnly},
			),
			Flatten:   flattenToquesDaily,
			Parents:   []Parent{dailyStatsParent},
			DependsOn: []string{"daily_stats"},
		},
		{
			Name:   "toques_heatmap",
			Source: "raw_push_stats",
			Match:  postgres.EndpointMatch{Contains: "/pushHeatmap"},
			Keys:   []string{"tenant_id", "canal", "dia_semana", "hora"},
			Columns: append(
				overwrite("ctr", "dia_orden"),
				Column{Name: "enviados", Policy: InsertOnly},
				Column{Name: "clicks", Policy: InsertOnly},
				Column{Name: "abiertos", Policy: InsertOnly},
				Column{Name: "conversiones", Policy: InsertOnly},
			),
			Flatten:    flattenHeatmap,
			LatestOnly: true,
		},
		{
			Name:   "campaigns",
			Source: "raw_campaigns_api",
			Keys:   []string{"tenant_id", "campana_id"},
			Columns: append(
				overwrite("campana_nombre", "canal", "proyecto_cuenta", "tipo_campana",
					"total_enviados", "total_entregados", "total_clicks", "fecha_inicio", "fecha_fin",
					"total_abiertos", "total_rebotes", "total_bloqueados", "total_spam", "total_desuscritos",
					"total_conversiones", "ctr", "tasa_entrega", "open_rate", "conversion_rate"),
				Column{Name: "total_chunks", Policy: InsertOnly},
			),
			Flatten: flattenCampaigns,
		},
		{
			Name:   "messages",
			Source: "raw_chat_stats",
			Match:  postgres.EndpointMatch{Exact: messagesEndpoint},
			Keys:   []string{"tenant_id", "message_id"},
			Columns: append(
				overwrite("send_type", "direction", "content_type", "status", "contact_name", "contact_id",
					"conversation_id", "agent_id", "close_reason", "intent", "is_fallback", "message_body",
					"is_bot", "is_human"),
				Column{Name: "timestamp", Policy: InsertOnly},
				Column{Name: "date", Policy: InsertOnly},
				Column{Name: "hour", Policy: InsertOnly},
				Column{Name: "day_of_week", Policy: InsertOnly},
			),
			Flatten: flattenMessages,
			Parents: []Parent{
				dailyStatsParent,
				{Table: "contacts", Columns: []string{"tenant_id", "contact_id"}},
				{Table: "agents", Columns: []string{"tenant_id", "agent_id"}},
			},
			DependsOn: []string{"contacts", "daily_stats"},
		},
		{
			Name:   "chat_conversations",
			Source: "raw_chat_stats",
			Match:  postgres.EndpointMatch{Exact: conversationsEndpoint},
			Keys:   []string{"tenant_id", "session_id"},
			Columns: overwrite("conversation_session_id", "contact_id", "agent_id", "agent_email", "channel",
				"queued_at", "assigned_at", "closed_at", "initial_session_id", "wait_time_seconds", "handle_time_seconds"),
			Flatten: flattenConversations,
		},
		{
			Name:   "chat_channels",
			Source: "raw_chat_stats",
			Match:  postgres.EndpointMatch{Exact: channelsEndpoint},
			Keys:   []string{"tenant_id", "channel_id"},
			Columns: append(
				overwrite("channel_type", "channel_name", "phone_number", "status"),
				Column{Name: "config", Cast: "jsonb"},
			),
			Flatten: flattenChannels,
		},
		{
			Name:    "chat_topics",
			Source:  "raw_chat_stats",
			Match:   postgres.EndpointMatch{Exact: topicsEndpoint},
			Keys:    []string{"tenant_id", "topic_id"},
			Columns: overwrite("topic_name", "description", "is_active"),
			Flatten: flattenTopics,
		},
	}
}

func flattenContacts(raw postgres.RawRow) []Row {
	var rows []Row
	for _, rec := range raw.Data.Records() {
		id := rec.String("contactId")
		if id == "" {
			continue
		}
		rows = append(rows, Row{
			"tenant_id":           raw.TenantID,
			"contact_id":          truncate(id, 100),
			"contact_name":        nullString(truncate(rec.String("profileName"), 255)),
			"total_messages":      0,
			"first_contact":       dayOf(rec.Time("createdAt")),
			"last_contact":        dayOf(rec.Time("updatedAt")),
			"total_conversations": 0,
		})
	}
	return rows
}

func flattenDailyStats(raw postgres.RawRow) []Row {
	var rows []Row
	for _, rec := range raw.Data.Records() {
		day := dayOf(rec.Time("statsDate"))
		if day == nil {
			continue
		}
		rows = append(rows, Row{
			"tenant_id":       raw.TenantID,
			"date":            day,
			"total_messages":  0,
			"unique_contacts": 0,
			"conversations":   0,
			"fallback_count":  0,
		})
	}
	return rows
}

func flattenToquesDaily(raw postgres.RawRow) []Row {
	var rows []Row
	for _, rec := range raw.Data.Records() {
		canal := rec.String("platformGroup")
		day := dayOf(rec.Time("statsDate"))
		if canal == "" || day == nil {
			continue
		}

		enviados := rec.Int("numDevicesSent")
		entregados := rec.Int("numDevicesSuccess")
		abiertos := rec.Int("numDevicesReceived")
		clicks := rec.Int("numDevicesClicked")

		rows = append(rows, Row{
			"tenant_id":       raw.TenantID,
			"date":            day,
			"canal":           truncate(canal, 30),
			"proyecto_cuenta": truncate(lo.CoalesceOrEmpty(raw.ApplicationID, DefaultProjectAccount), 100),
			"enviados":        enviados,
			"entregados":      entregados,
			"clicks":          clicks,
			"abiertos":        abiertos,
			"ctr":             Rate(clicks, enviados),
			"tasa_entrega":    Rate(entregados, enviados),
			"open_rate":       Rate(abiertos, entregados),
			"chunks":          0,
			"usuarios_unicos": 0,
			"rebotes":         0,
			"bloqueados":      0,
			"spam":            0,
			"desuscritos":     0,
			"conversiones":    0,
			"conversion_rate": 0.0,
		})
	}
	return rows
}

func flattenHeatmap(raw postgres.RawRow) []Row {
	var rows []Row
	raw.Data.Get("data.weekday-hour").ForEach(func(weekday string, hours payload.Record) bool {
		if !hours.IsObject() {
			return true
		}
		hours.ForEach(func(hour string, value payload.Record) bool {
			h, err := strconv.Atoi(strings.TrimSpace(hour))
			if err != nil {
				return true
			}
			rows = append(rows, Row{
				"tenant_id":    raw.TenantID,
				"canal":        "push",
				"dia_semana":   truncate(weekday, 12),
				"hora":         h,
				"ctr":          round2(value.Float() * 100),
				"dia_orden":    date.WeekdayOrder(weekday),
				"enviados":     0,
				"clicks":       0,
				"abiertos":     0,
				"conversiones": 0,
			})
			return true
		})
		return true
	})
	return rows
}

func flattenCampaigns(raw postgres.RawRow) []Row {
	var rows []Row
	for _, rec := range raw.Data.Records() {
		id := rec.String("id", "campaignId")
		if id == "" {
			continue
		}

		enviados := rec.Int("sent")
		entregados := rec.Int("delivered")
		clicks := rec.Int("clicked")
		abiertos := rec.Int("opened")
		conversiones := rec.Int("converted")

		rows = append(rows, Row{
			"tenant_id":          raw.TenantID,
			"campana_id":         truncate(id, 100),
			"campana_nombre":     truncate(rec.StringOr("Sin nombre", "name", "title"), 255),
			"canal":              truncate(rec.StringOr("push", "channel", "type"), 30),
			"proyecto_cuenta":    truncate(rec.StringOr(DefaultProjectAccount, "applicationId"), 100),
			"tipo_campana":       nullString(truncate(rec.String("status"), 50)),
			"total_enviados":     enviados,
			"total_entregados":   entregados,
			"total_clicks":       clicks,
			"total_chunks":       0,
			"fecha_inicio":       dayOf(rec.Time("startDate")),
			"fecha_fin":          dayOf(rec.Time("endDate")),
			"total_abiertos":     abiertos,
			"total_rebotes":      rec.Int("bounced"),
			"total_bloqueados":   rec.Int("blocked"),
			"total_spam":         rec.Int("spam"),
			"total_desuscritos":  rec.Int("unsubscribed"),
			"total_conversiones": conversiones,
			"ctr":                Rate(clicks, enviados),
			"tasa_entrega":       Rate(entregados, enviados),
			"open_rate":          Rate(abiertos, entregados),
			"conversion_rate":    Rate(conversiones, clicks),
		})
	}
	return rows
}

func flattenMessages(raw postgres.RawRow) []Row {
	var rows []Row
	for _, rec := range raw.Data.Records() {
		id := rec.String("messageId")
		ts := rec.Time("messageDate")
		if id == "" || ts == nil {
			continue
		}

		at := ts.UTC()
		sendType := rec.String("sendType")
		integration := rec.String("integration")

		rows = append(rows, Row{
			"tenant_id":       raw.TenantID,
			"message_id":      truncate(id, 100),
			"timestamp":       at,
			"date":            date.Day(at),
			"hour":            at.Hour(),
			"day_of_week":     at.Weekday().String(),
			"send_type":       nullString(truncate(sendType, 30)),
			"direction":       Direction(sendType, integration),
			"content_type":    nullString(truncate(rec.String("contentType"), 30)),
			"status":          nullString(truncate(rec.String("status"), 20)),
			"contact_name":    nullString(truncate(rec.String("profileName"), 255)),
			"contact_id":      nullString(truncate(rec.String("contactId"), 100)),
			"conversation_id": nullString(truncate(rec.String("agentConversationId"), 100)),
			"agent_id":        nullString(truncate(rec.String("agentId"), 100)),
			"close_reason":    nullString(truncate(rec.String("agentCloseReason"), 100)),
			"intent":          nullString(truncate(rec.String("dfIntentName"), 200)),
			"is_fallback":     rec.String("isFallback") == "Yes",
			"message_body":    nullString(rec.String("content")),
			"is_bot":          IsBot(sendType, integration),
			"is_human":        IsHuman(sendType),
		})
	}
	return rows
}

func flattenConversations(raw postgres.RawRow) []Row {
	var rows []Row
	for _, rec := range raw.Data.Records() {
		session := rec.String("agentSessionId")
		if session == "" {
			continue
		}

		queued := rec.Time("queuedAt")
		assigned := rec.Time("assignedAt")
		closed := rec.Time("closedAt")

		rows = append(rows, Row{
			"tenant_id":               raw.TenantID,
			"session_id":              truncate(session, 100),
			"conversation_session_id": nullString(truncate(rec.String("conversationSessionId"), 100)),
			"contact_id":              nullString(truncate(rec.String("contactId"), 100)),
			"agent_id":                nullString(truncate(rec.String("agentId"), 100)),
			"agent_email":             nullString(truncate(rec.String("email"), 255)),
			"channel":                 nullString(truncate(rec.String("channel"), 30)),
			"queued_at":               nullTime(queued),
			"assigned_at":             nullTime(assigned),
			"closed_at":               nullTime(closed),
			"initial_session_id":      nullString(truncate(rec.String("initialAgentSession"), 100)),
			"wait_time_seconds":       seconds(queued, assigned),
			"handle_time_seconds":     seconds(assigned, closed),
		})
	}
	return rows
}

func flattenChannels(raw postgres.RawRow) []Row {
	var rows []Row
	for _, rec := range raw.Data.Records() {
		id := rec.String("id", "channelId")
		if id == "" {
			continue
		}
		rows = append(rows, Row{
			"tenant_id":    raw.TenantID,
			"channel_id":   truncate(id, 100),
			"channel_type": nullString(truncate(rec.String("type"), 30)),
			"channel_name": nullString(truncate(rec.String("name"), 255)),
			"phone_number": nullString(truncate(rec.String("phoneNumber"), 50)),
			"status":       nullString(truncate(rec.String("status"), 20)),
			"config":       string(rec.Raw()),
		})
	}
	return rows
}

func flattenTopics(raw postgres.RawRow) []Row {
	var rows []Row
	for _, rec := range raw.Data.Records() {
		id := rec.String("id", "topicId")
		if id == "" {
			continue
		}
		rows = append(rows, Row{
			"tenant_id":   raw.TenantID,
			"topic_id":    truncate(id, 100),
			"topic_name":  nullString(truncate(rec.String("name"), 255)),
			"description": nullString(rec.String("description")),
			"is_active":   rec.Bool(true, "isActive"),
		})
	}
	return rows
}

// Direction classifies a chat message from its send type, falling back to the integration
// name. Anything unrecognized is treated as Outbound.
func Direction(sendType, integration string) string {
	switch sendType {
	case "input":
		return "Inbound"
	case "operator":
		return "Agent"
	case "dialogflow":
		return "Bot"
	case "agent_notification":
		return "System"
	}
	if integration == "df" {
		return "Bot"
	}
	return "Outbound"
}

func IsBot(sendType, integration string) bool {
	return integration == "df" && sendType != "input"
}

func IsHuman(sendType string) bool {
	return sendType == "operator"
}

// Rate is part/total as a percentage rounded to two decimals, 0 when total is 0.
func Rate(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func dayOf(t *time.Time) any {
	if t == nil {
		return nil
	}
	return date.Day(*t)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func seconds(from, to *time.Time) any {
	if from == nil || to == nil {
		return nil
	}
	return int64(to.Sub(*from) / time.Second)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
