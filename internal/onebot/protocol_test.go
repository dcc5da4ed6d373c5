package onebot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/nailong-guard/internal/dispatch"
)

func decodeFrame(t *testing.T, raw string) *frame {
	t.Helper()
	var f frame
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	return &f
}

func TestToMessage(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		raw    string
		want   dispatch.Message
		wantOK bool
	}{
		{
			name: "array format",
			raw: `{"post_type":"message","message_type":"group","self_id":10,"message_id":7,"group_id":5,"user_id":3,
				"sender":{"user_id":3,"role":"member"},
				"message":[{"type":"at","data":{"qq":"10"}},{"type":"text","data":{"text":" 检测"}},
					{"type":"image","data":{"file":"x.image","url":"https://img.example/a"}},
					{"type":"image","data":{"file":"https://img.example/b"}},
					{"type":"image","data":{"file":"local.image"}}]}`,
			want: dispatch.Message{
				ID: 7, GroupID: 5, UserID: 3, Role: "member", Text: " 检测",
				Images: []string{"https://img.example/a", "https://img.example/b"},
			},
			wantOK: true,
		},
		{
			name: "cq string format",
			raw: `{"post_type":"message","message_type":"group","message_id":8,"group_id":5,"user_id":3,
				"sender":{"role":"owner"},
				"message":"look &#91;here&#93;[CQ:image,file=a.image,url=https://img.example/q?a=1&amp;b=2] done"}`,
			want: dispatch.Message{
				ID: 8, GroupID: 5, UserID: 3, Role: "owner", Text: "look [here] done",
				Images: []string{"https://img.example/q?a=1&b=2"},
			},
			wantOK: true,
		},
		{
			name:   "private message keeps zero group",
			raw:    `{"post_type":"message","message_type":"private","message_id":9,"user_id":3,"message":[{"type":"text","data":{"text":"hi"}}]}`,
			want:   dispatch.Message{ID: 9, UserID: 3, Text: "hi"},
			wantOK: true,
		},
		{
			name: "own message ignored",
			raw:  `{"post_type":"message","message_type":"group","self_id":3,"group_id":5,"user_id":3,"message":[]}`,
		},
		{
			name: "notice ignored",
			raw:  `{"post_type":"notice","notice_type":"group_recall","group_id":5,"user_id":3}`,
		},
		{
			name: "heartbeat ignored",
			raw:  `{"post_type":"meta_event","meta_event_type":"heartbeat","self_id":10}`,
		},
		{
			name: "malformed segments ignored",
			raw:  `{"post_type":"message","message_type":"group","group_id":5,"user_id":3,"message":{"oops":true}}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := toMessage(decodeFrame(t, tc.raw))
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResponseFrames(t *testing.T) {
	t.Parallel()

	f := decodeFrame(t, `{"status":"ok","retcode":0,"data":null,"echo":"17"}`)
	assert.True(t, f.isResponse())
	assert.Equal(t, "17", f.echoKey())

	f = decodeFrame(t, `{"status":"ok","retcode":0,"echo":17}`)
	assert.Equal(t, "17", f.echoKey())

	f = decodeFrame(t, `{"post_type":"message"}`)
	assert.False(t, f.isResponse())
}

func TestToSegments(t *testing.T) {
	t.Parallel()

	to := dispatch.Message{ID: 77, GroupID: 1}

	segs := toSegments(to, dispatch.TextReply("stop"))
	require.Len(t, segs, 1)
	assert.Equal(t, segmentTypeText, segs[0].Type)

	segs = toSegments(to, dispatch.Reply{
		Segments: []dispatch.Segment{{Text: "a"}, {Image: "/data/tmp/x.png"}, {}},
		Quote:    true,
	})
	require.Len(t, segs, 3)
	assert.Equal(t, segment{Type: segmentTypeReply, Data: map[string]any{"id": "77"}}, segs[0])
	assert.Equal(t, "file:///data/tmp/x.png", segs[2].str("file"))
}

func TestParseCQ(t *testing.T) {
	t.Parallel()

	segs := parseCQ("[CQ:reply,id=12][CQ:at,qq=10] hello")
	require.Len(t, segs, 3)
	assert.Equal(t, "reply", segs[0].Type)
	assert.Equal(t, "12", segs[0].str("id"))
	assert.Equal(t, "at", segs[1].Type)
	assert.Equal(t, " hello", segs[2].str("text"))

	assert.Empty(t, parseCQ(""))
	assert.Equal(t, "[CQ:broken", parseCQ("[CQ:broken")[0].str("text"))
}
