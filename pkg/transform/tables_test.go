package transform

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toques-bi/toques/pkg/payload"
	"github.com/toques-bi/toques/pkg/postgres"
)

func rawRow(id int64, loadedAt time.Time, body any) postgres.RawRow {
	return postgres.RawRow{
		ID:            id,
		TenantID:      "visionamos",
		ApplicationID: "100274",
		LoadedAt:      loadedAt,
		Data:          payload.MustFromValue(body),
	}
}

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func tableByName(t *testing.T, name string) Table {
	t.Helper()
	for _, tbl := range Tables() {
		if tbl.Name == name {
			return tbl
		}
	}
	t.Fatalf("no table %s", name)
	return Table{}
}

func TestDirection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sendType, integration string
		direction             string
		bot, human            bool
	}{
		{sendType: "input", integration: "df", direction: "Inbound"},
		{sendType: "operator", direction: "Agent", human: true},
		{sendType: "dialogflow", direction: "Bot"},
		{sendType: "dialogflow", integration: "df", direction: "Bot", bot: true},
		{sendType: "agent_notification", direction: "System"},
		{sendType: "template", integration: "df", direction: "Bot", bot: true},
		{sendType: "template", direction: "Outbound"},
		{direction: "Outbound"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.sendType+"/"+tt.integration, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.direction, Direction(tt.sendType, tt.integration))
			assert.Equal(t, tt.bot, IsBot(tt.sendType, tt.integration))
			assert.Equal(t, tt.human, IsHuman(tt.sendType))
		})
	}
}

func TestRate(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 33.33, Rate(1, 3), 0.0001)
	assert.InDelta(t, 66.67, Rate(2, 3), 0.0001)
	assert.InDelta(t, 100.0, Rate(5, 5), 0.0001)
	assert.Zero(t, Rate(5, 0))
	assert.Zero(t, Rate(0, 10))
}

func TestFlattenMessages(t *testing.T) {
	t.Parallel()

	raw := rawRow(1, t0, map[string]any{"data": []any{
		map[string]any{
			"messageId":           "msg_001",
			"messageDate":         "2025-03-04T15:30:00Z",
			"sendType":            "operator",
			"contentType":         "text",
			"status":              "delivered",
			"profileName":         "Ana",
			"contactId":           "c1",
			"agentConversationId": 991,
			"agentId":             "ag_1",
			"isFallback":          "Yes",
			"content":             "hola",
			"integration":         "wa",
		},
		map[string]any{"messageId": "msg_002"},
		map[string]any{"messageDate": "2025-03-04T15:30:00Z"},
	}})

	rows := flattenMessages(raw)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "visionamos", row["tenant_id"])
	assert.Equal(t, "msg_001", row["message_id"])
	assert.Equal(t, day("2025-03-04"), row["date"])
	assert.Equal(t, 15, row["hour"])
	assert.Equal(t, "Tuesday", row["day_of_week"])
	assert.Equal(t, "Agent", row["direction"])
	assert.Equal(t, "991", row["conversation_id"])
	assert.Equal(t, true, row["is_fallback"])
	assert.Equal(t, true, row["is_human"])
	assert.Equal(t, false, row["is_bot"])
	assert.Nil(t, row["close_reason"])
}

func TestFlattenToquesDaily(t *testing.T) {
	t.Parallel()

	raw := rawRow(1, t0, map[string]any{"data": []any{
		map[string]any{
			"platformGroup":      "android",
			"statsDate":          "2025-03-01",
			"numDevicesSent":     200,
			"numDevicesSuccess":  "150",
			"numDevicesReceived": 30,
			"numDevicesClicked":  7,
		},
		map[string]any{"platformGroup": "ios", "statsDate": "2025-03-01", "numDevicesSent": "n/a"},
		map[string]any{"statsDate": "2025-03-01"},
	}})

	rows := flattenToquesDaily(raw)
	require.Len(t, rows, 2)

	assert.Equal(t, "100274", rows[0]["proyecto_cuenta"])
	assert.Equal(t, int64(150), rows[0]["entregados"])
	assert.InDelta(t, 3.5, rows[0]["ctr"], 0.0001)
	assert.InDelta(t, 75.0, rows[0]["tasa_entrega"], 0.0001)
	assert.InDelta(t, 20.0, rows[0]["open_rate"], 0.0001)

	assert.Equal(t, int64(0), rows[1]["enviados"])
	assert.Zero(t, rows[1]["ctr"])
}

func TestFlattenHeatmap(t *testing.T) {
	t.Parallel()

	raw := rawRow(1, t0, map[string]any{"data": map[string]any{
		"weekday-hour": map[string]any{
			"monday": map[string]any{"9": 0.1234, "10": 0.5},
			"funday": map[string]any{"1": 0.2},
			"sunday": "not an object",
		},
	}})

	rows := flattenHeatmap(raw)
	require.Len(t, rows, 3)

	byKey := map[string]Row{}
	for _, r := range rows {
		byKey[fmt.Sprintf("%s/%d", r["dia_semana"], r["hora"])] = r
	}

	monday9 := byKey["monday/9"]
	require.NotNil(t, monday9)
	assert.InDelta(t, 12.34, monday9["ctr"], 0.0001)
	assert.Equal(t, 1, monday9["dia_orden"])
	assert.Equal(t, "push", monday9["canal"])
	assert.Equal(t, 0, byKey["funday/1"]["dia_orden"])
}

func TestFlattenCampaigns(t *testing.T) {
	t.Parallel()

	raw := rawRow(1, t0, map[string]any{"data": []any{
		map[string]any{"campaignId": 55, "sent": 100, "delivered": 80, "clicked": 10, "opened": 40, "converted": 2, "status": "SENT"},
		map[string]any{"name": "no id"},
	}})

	rows := flattenCampaigns(raw)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "55", row["campana_id"])
	assert.Equal(t, "Sin nombre", row["campana_nombre"])
	assert.Equal(t, "push", row["canal"])
	assert.Equal(t, DefaultProjectAccount, row["proyecto_cuenta"])
	assert.Equal(t, "SENT", row["tipo_campana"])
	assert.InDelta(t, 10.0, row["ctr"], 0.0001)
	assert.InDelta(t, 80.0, row["tasa_entrega"], 0.0001)
	assert.InDelta(t, 50.0, row["open_rate"], 0.0001)
	assert.InDelta(t, 20.0, row["conversion_rate"], 0.0001)
	assert.Nil(t, row["fecha_inicio"])
}

func TestFlattenConversations(t *testing.T) {
	t.Parallel()

	raw := rawRow(1, t0, map[string]any{"data": []any{
		map[string]any{
			"agentSessionId": 123,
			"agentId":        7,
			"queuedAt":       "2025-03-01T10:00:00Z",
			"assignedAt":     "2025-03-01T10:02:30Z",
			"closedAt":       "2025-03-01T10:12:30Z",
		},
		map[string]any{"agentSessionId": "s2", "assignedAt": "2025-03-01T10:00:00Z"},
	}})

	rows := flattenConversations(raw)
	require.Len(t, rows, 2)

	assert.Equal(t, "123", rows[0]["session_id"])
	assert.Equal(t, "7", rows[0]["agent_id"])
	assert.Equal(t, int64(150), rows[0]["wait_time_seconds"])
	assert.Equal(t, int64(600), rows[0]["handle_time_seconds"])
	assert.Nil(t, rows[1]["wait_time_seconds"])
	assert.Nil(t, rows[1]["handle_time_seconds"])
}

func TestFlattenContactsChannelsTopics(t *testing.T) {
	t.Parallel()

	contacts := flattenContacts(rawRow(1, t0, map[string]any{"data": []any{
		map[string]any{"contactId": "c1", "profileName": "Ana", "createdAt": "2025-01-02T08:00:00Z", "updatedAt": "2025-02-03T09:00:00Z"},
	}}))
	require.Len(t, contacts, 1)
	assert.Equal(t, day("2025-01-02"), contacts[0]["first_contact"])
	assert.Equal(t, day("2025-02-03"), contacts[0]["last_contact"])

	channels := flattenChannels(rawRow(1, t0, map[string]any{"data": []any{
		map[string]any{"channelId": "wa-1", "type": "whatsapp", "phoneNumber": "+57300"},
	}}))
	require.Len(t, channels, 1)
	assert.Equal(t, "wa-1", channels[0]["channel_id"])
	assert.JSONEq(t, `{"channelId":"wa-1","type":"whatsapp","phoneNumber":"+57300"}`, channels[0]["config"].(string))

	topics := flattenTopics(rawRow(1, t0, map[string]any{"data": []any{
		map[string]any{"id": "t1", "name": "Creditos"},
		map[string]any{"topicId": "t2", "isActive": false},
	}}))
	require.Len(t, topics, 2)
	assert.Equal(t, true, topics[0]["is_active"])
	assert.Equal(t, false, topics[1]["is_active"])
}

func TestDedup_LaterLandingWins(t *testing.T) {
	t.Parallel()

	messages := tableByName(t, "messages")
	msg := func(contentType string) map[string]any {
		return map[string]any{"data": []any{map[string]any{
			"messageId":   "msg_001",
			"messageDate": "2025-03-04T15:30:00Z",
			"contentType": contentType,
		}}}
	}

	t.Run("text then image", func(t *testing.T) {
		t.Parallel()

		rows := Dedup(messages, []postgres.RawRow{
			rawRow(1, t0, msg("text")),
			rawRow(2, t0.Add(time.Hour), msg("image")),
		})
		require.Len(t, rows, 1)
		assert.Equal(t, "image", rows[0]["content_type"])
	})

	t.Run("landing time beats raw id", func(t *testing.T) {
		t.Parallel()

		rows := Dedup(messages, []postgres.RawRow{
			rawRow(9, t0, msg("text")),
			rawRow(2, t0.Add(time.Hour), msg("image")),
		})
		require.Len(t, rows, 1)
		assert.Equal(t, "image", rows[0]["content_type"])
	})

	t.Run("same landing time goes to the higher raw id", func(t *testing.T) {
		t.Parallel()

		rows := Dedup(messages, []postgres.RawRow{
			rawRow(7, t0, msg("image")),
			rawRow(3, t0, msg("text")),
		})
		require.Len(t, rows, 1)
		assert.Equal(t, "image", rows[0]["content_type"])
	})

	t.Run("reprocessing is idempotent", func(t *testing.T) {
		t.Parallel()

		raws := []postgres.RawRow{rawRow(1, t0, msg("text")), rawRow(2, t0.Add(time.Hour), msg("image"))}
		once := Dedup(messages, raws)
		twice := Dedup(messages, append(append([]postgres.RawRow{}, raws...), raws...))
		assert.Equal(t, once, twice)
	})
}

func TestDedup_TenantsAreSeparateKeys(t *testing.T) {
	t.Parallel()

	topics := tableByName(t, "chat_topics")
	a := rawRow(1, t0, map[string]any{"data": []any{map[string]any{"id": "t1", "name": "A"}}})
	b := rawRow(2, t0, map[string]any{"data": []any{map[string]any{"id": "t1", "name": "B"}}})
	b.TenantID = "coovimag"

	rows := Dedup(topics, []postgres.RawRow{a, b})
	assert.Len(t, rows, 2)
}

func TestLatestPerTenant(t *testing.T) {
	t.Parallel()

	older := rawRow(1, t0, map[string]any{"data": map[string]any{}})
	newer := rawRow(2, t0.Add(time.Minute), map[string]any{"data": map[string]any{}})
	other := rawRow(3, t0, map[string]any{"data": map[string]any{}})
	other.TenantID = "coovimag"

	got := latestPerTenant([]postgres.RawRow{older, newer, other})
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(2), got[1].ID)
}
