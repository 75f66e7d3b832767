package normalize

import "encoding/json"

// InferAction guesses which list API produced a response by inspecting the
// field set of the first element when the data payload is a non-empty array.
// Lossy on purpose: ambiguous shapes yield no inference.
func InferAction(data json.RawMessage) string {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil || len(items) == 0 {
		return ""
	}
	first := items[0]
	_, hasGroupID := first["group_id"]
	_, hasGroupName := first["group_name"]
	_, hasUserID := first["user_id"]
	_, hasNickname := first["nickname"]
	_, hasRole := first["role"]

	switch {
	case hasGroupID && hasUserID && hasRole:
		return "get_group_member_list"
	case hasGroupID && hasGroupName && !hasUserID:
		return "get_group_list"
	case hasUserID && hasNickname && !hasGroupID:
		return "get_friend_list"
	}
	return ""
}
