package wizard

import (
	"errors"
	"strconv"
	"strings"
)

// Telegram limits callback data to 64 bytes.
const maxCallbackLen = 64

const callbackPrefix = "wz"

type action string

const (
	actionChat    action = "chat"
	actionPage    action = "page"
	actionUser    action = "user"
	actionSubmit  action = "ok"
	actionCancel  action = "x"
	actionList    action = "list"
	actionNew     action = "new"
	actionClose   action = "close"
	actionGroup   action = "grp"
	actionRename  action = "ren"
	actionMembers action = "mem"
	actionDelete  action = "del"
	actionConfirm action = "yes"
	actionBack    action = "back"
	actionNoop    action = "noop"
)

var errBadCallback = errors.New("malformed callback data")

type callback struct {
	session string
	action  action
	arg     int64
}

func encodeCallback(session string, a action, arg ...int64) string {
	data := callbackPrefix + ":" + session + ":" + string(a)
	if len(arg) > 0 {
		data += ":" + strconv.FormatInt(arg[0], 10)
	}
	return data
}

// IsCallback reports whether callback data was produced by the wizard.
func IsCallback(data string) bool {
	return strings.HasPrefix(data, callbackPrefix+":")
}

func decodeCallback(data string) (callback, error) {
	if len(data) > maxCallbackLen || !IsCallback(data) {
		return callback{}, errBadCallback
	}

	parts := strings.Split(data, ":")
	if len(parts) < 3 || len(parts) > 4 || parts[1] == "" || parts[2] == "" {
		return callback{}, errBadCallback
	}

	cb := callback{session: parts[1], action: action(parts[2])}
	if len(parts) == 4 {
		arg, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return callback{}, errBadCallback
		}
		cb.arg = arg
	}
	return cb, nil
}
