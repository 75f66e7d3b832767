package normalize

import (
	"encoding/json"
	"testing"
)

func TestInferAction(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{
			"group members",
			`[{"group_id": 1, "user_id": 2, "role": "member", "nickname": "a"}]`,
			"get_group_member_list",
		},
		{
			"group list",
			`[{"group_id": 1, "group_name": "devs", "member_count": 3}]`,
			"get_group_list",
		},
		{
			"friend list",
			`[{"user_id": 2, "nickname": "a", "remark": ""}]`,
			"get_friend_list",
		},
		{"empty array", `[]`, ""},
		{"not an array", `{"user_id": 2}`, ""},
		{"null", `null`, ""},
		{"ambiguous shape", `[{"id": 5}]`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := InferAction(json.RawMessage(tc.data)); got != tc.want {
				t.Errorf("InferAction(%s) = %q, want %q", tc.data, got, tc.want)
			}
		})
	}
}
