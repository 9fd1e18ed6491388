package twitch

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"

	"twitch-chat-bridge/chat"
)

var (
	hostedRe  = regexp.MustCompile(`^(\S+) is now (auto )?hosting you(?: for(?: up to)? (\d+))?`)
	modsRe    = regexp.MustCompile(`(?i)moderators of this (?:channel|room) are: (.*)`)
	vipsRe    = regexp.MustCompile(`(?i)VIPs of this channel are: (.*)`)
	roomFlags = map[string]chat.Kind{
		"emote-only":     chat.KindEmoteOnly,
		"followers-only": chat.KindFollowersOnly,
		"r9k":            chat.KindR9kBeta,
		"slow":           chat.KindSlowMode,
		"subs-only":      chat.KindSubscribers,
	}
)

func (c *Conn) onPrivateMessage(m twitchirc.PrivateMessage) {
	c.emitRaw(m.Raw, m.RawType, m.Tags)

	channel := "#" + normalizeChannel(m.Channel)
	self := strings.EqualFold(m.User.Name, c.username)

	// Уведомления о хостинге приходят от jtv обычным PRIVMSG.
	if m.User.Name == "jtv" {
		if match := hostedRe.FindStringSubmatch(m.Message); match != nil {
			viewers, _ := strconv.Atoi(match[3])
			c.Emit(chat.NewEvent(chat.KindHosted, channel, match[1], viewers, match[2] != ""))
			return
		}
	}

	kind, messageType := chat.KindChat, "chat"
	if m.Action {
		kind, messageType = chat.KindAction, "action"
	}
	state := userstate(m.Tags, m.User, messageType)

	c.Emit(chat.NewEvent(kind, channel, state, m.Message, self))
	c.Emit(chat.NewEvent(chat.KindMessage, channel, state, m.Message, self))
	if m.Bits > 0 {
		c.Emit(chat.NewEvent(chat.KindCheer, channel, state, m.Message))
	}
}

func (c *Conn) onWhisperMessage(m twitchirc.WhisperMessage) {
	c.emitRaw(m.Raw, m.RawType, m.Tags)

	from := "#" + strings.ToLower(m.User.Name)
	state := userstate(m.Tags, m.User, "whisper")
	c.Emit(chat.NewEvent(chat.KindWhisper, from, state, m.Message, false))
	c.Emit(chat.NewEvent(chat.KindMessage, from, state, m.Message, false))
}

func (c *Conn) onClearChatMessage(m twitchirc.ClearChatMessage) {
	c.emitRaw(m.Raw, m.RawType, m.Tags)

	channel := "#" + normalizeChannel(m.Channel)
	reason := nullable(m.Tags["ban-reason"])
	switch {
	case m.TargetUsername == "":
		c.Emit(chat.NewEvent(chat.KindClearChat, channel))
	case m.BanDuration > 0:
		c.Emit(chat.NewEvent(chat.KindTimeout, channel, m.TargetUsername, reason, m.BanDuration))
	default:
		c.Emit(chat.NewEvent(chat.KindBan, channel, m.TargetUsername, reason))
	}
}

func (c *Conn) onClearMessage(m twitchirc.ClearMessage) {
	c.emitRaw(m.Raw, m.RawType, m.Tags)

	channel := "#" + normalizeChannel(m.Channel)
	c.Emit(chat.NewEvent(chat.KindMessageDeleted, channel, m.Login, m.Message, tagMap(m.Tags)))
}

func (c *Conn) onRoomStateMessage(m twitchirc.RoomStateMessage) {
	c.emitRaw(m.Raw, m.RawType, m.Tags)

	channel := "#" + normalizeChannel(m.Channel)
	state := tagMap(m.Tags)
	state["channel"] = channel
	c.Emit(chat.NewEvent(chat.KindRoomState, channel, state))

	// Полный ROOMSTATE приходит при входе; одиночный флаг означает смену режима.
	if len(m.State) != 1 {
		return
	}
	for key, value := range m.State {
		kind, ok := roomFlags[key]
		if !ok {
			continue
		}
		switch kind {
		case chat.KindFollowersOnly:
			c.Emit(chat.NewEvent(kind, channel, value >= 0, max(value, 0)))
		case chat.KindSlowMode:
			c.Emit(chat.NewEvent(kind, channel, value > 0, value))
		default:
			c.Emit(chat.NewEvent(kind, channel, value == 1))
		}
	}
}

func (c *Conn) onUserNoticeMessage(m twitchirc.UserNoticeMessage) {
	c.emitRaw(m.Raw, m.RawType, m.Tags)

	channel := "#" + normalizeChannel(m.Channel)
	username := m.User.Name
	message := nullable(m.Message)
	state := userstate(m.Tags, m.User, m.MsgID)
	params := m.MsgParams

	switch m.MsgID {
	case "sub":
		c.Emit(chat.NewEvent(chat.KindSubscription, channel, username, subMethods(params), message, state))
	case "resub":
		months := paramInt(params, "msg-param-cumulative-months")
		c.Emit(chat.NewEvent(chat.KindResub, channel, username, months, message, state, subMethods(params)))
	case "subgift":
		recipient := params["msg-param-recipient-display-name"]
		if recipient == "" {
			recipient = params["msg-param-recipient-user-name"]
		}
		streak := paramInt(params, "msg-param-months")
		c.Emit(chat.NewEvent(chat.KindSubGift, channel, username, streak, recipient, subMethods(params), state))
	case "submysterygift":
		count := paramInt(params, "msg-param-mass-gift-count")
		c.Emit(chat.NewEvent(chat.KindSubMysteryGift, channel, username, count, subMethods(params), state))
	case "giftpaidupgrade":
		c.Emit(chat.NewEvent(chat.KindGiftPaidUpgrade, channel, username, params["msg-param-sender-name"], state))
	case "anongiftpaidupgrade":
		c.Emit(chat.NewEvent(chat.KindAnonGiftPaidUpgrade, channel, username, state))
	case "raid":
		raider := params["msg-param-displayName"]
		if raider == "" {
			raider = params["msg-param-login"]
		}
		c.Emit(chat.NewEvent(chat.KindRaided, channel, raider, paramInt(params, "msg-param-viewerCount")))
	default:
		c.log.Debug().Str("msg_id", m.MsgID).Msg("Unhandled USERNOTICE")
	}
}

func (c *Conn) onUserStateMessage(m twitchirc.UserStateMessage) {
	c.emitRaw(m.Raw, m.RawType, m.Tags)

	c.tagsMu.Lock()
	c.userTags[normalizeChannel(m.Channel)] = m.Tags
	c.tagsMu.Unlock()
}

func (c *Conn) onGlobalUserStateMessage(m twitchirc.GlobalUserStateMessage) {
	c.emitRaw(m.Raw, m.RawType, m.Tags)

	c.tagsMu.Lock()
	c.globalTags = m.Tags
	c.tagsMu.Unlock()

	sets := make(map[string][]any, len(m.EmoteSets))
	for _, set := range m.EmoteSets {
		sets[set] = []any{}
	}
	c.Emit(chat.NewEvent(chat.KindEmoteSets, strings.Join(m.EmoteSets, ","), sets))
}

func (c *Conn) onNoticeMessage(m twitchirc.NoticeMessage) {
	c.emitRaw(m.Raw, m.RawType, m.Tags)

	channel := "#" + normalizeChannel(m.Channel)
	switch m.MsgID {
	case "room_mods":
		c.Emit(chat.NewEvent(chat.KindMods, channel, parseList(modsRe, m.Message)))
	case "no_mods":
		c.Emit(chat.NewEvent(chat.KindMods, channel, []string{}))
	case "vips_success":
		c.Emit(chat.NewEvent(chat.KindVips, channel, parseList(vipsRe, m.Message)))
	case "no_vips":
		c.Emit(chat.NewEvent(chat.KindVips, channel, []string{}))
	case "msg_channel_suspended":
		c.Emit(chat.NewEvent(chat.KindServerChange, channel))
	}
	c.Emit(chat.NewEvent(chat.KindNotice, channel, m.MsgID, m.Message))
}

func (c *Conn) onUserJoinMessage(m twitchirc.UserJoinMessage) {
	c.emitRaw(m.Raw, m.RawType, nil)
	c.Emit(chat.NewEvent(chat.KindJoin, "#"+normalizeChannel(m.Channel), m.User, false))
}

func (c *Conn) onSelfJoinMessage(m twitchirc.UserJoinMessage) {
	c.emitRaw(m.Raw, m.RawType, nil)
	c.log.Info().Str("channel", m.Channel).Msg("Joined channel")
	c.Emit(chat.NewEvent(chat.KindJoin, "#"+normalizeChannel(m.Channel), c.username, true))
}

func (c *Conn) onUserPartMessage(m twitchirc.UserPartMessage) {
	c.emitRaw(m.Raw, m.RawType, nil)
	c.Emit(chat.NewEvent(chat.KindPart, "#"+normalizeChannel(m.Channel), m.User, false))
}

func (c *Conn) onSelfPartMessage(m twitchirc.UserPartMessage) {
	c.emitRaw(m.Raw, m.RawType, nil)
	c.Emit(chat.NewEvent(chat.KindPart, "#"+normalizeChannel(m.Channel), c.username, true))
}

func (c *Conn) onReconnectMessage(m twitchirc.ReconnectMessage) {
	c.emitRaw(m.Raw, m.RawType, nil)
	c.log.Info().Msg("Server requested RECONNECT")
	c.Emit(chat.NewEvent(chat.KindReconnect))
}

func (c *Conn) onNamesMessage(m twitchirc.NamesMessage) {
	c.emitRaw(m.Raw, m.RawType, nil)
}

func (c *Conn) onPingMessage(m twitchirc.PingMessage) {
	c.emitRaw(m.Raw, m.RawType, nil)
	c.Emit(chat.NewEvent(chat.KindPing))
}

func (c *Conn) onPongMessage(m twitchirc.PongMessage) {
	c.emitRaw(m.Raw, m.RawType, nil)

	var latency float64
	if sent := c.lastPing.Load(); sent > 0 {
		latency = time.Since(time.Unix(0, sent)).Seconds()
	}
	c.Emit(chat.NewEvent(chat.KindPong, latency))
}

// onUnsetMessage разбирает команды, которые go-twitch-irc не типизирует: MODE и HOSTTARGET.
func (c *Conn) onUnsetMessage(m twitchirc.RawMessage) {
	c.emitRaw(m.Raw, m.RawType, m.Tags)

	params := commandParams(m.Raw, m.RawType)
	switch m.RawType {
	case "MODE":
		// MODE #channel +o user
		if len(params) < 3 {
			return
		}
		channel := "#" + normalizeChannel(params[0])
		switch params[1] {
		case "+o":
			c.Emit(chat.NewEvent(chat.KindMod, channel, params[2]))
		case "-o":
			c.Emit(chat.NewEvent(chat.KindUnmod, channel, params[2]))
		}
	case "HOSTTARGET":
		// HOSTTARGET #channel :target viewers; target "-" означает конец хостинга.
		if len(params) < 2 {
			return
		}
		channel := "#" + normalizeChannel(params[0])
		target := strings.TrimPrefix(params[1], ":")
		viewers := 0
		if len(params) > 2 {
			viewers, _ = strconv.Atoi(params[2])
		}
		if target == "-" {
			c.Emit(chat.NewEvent(chat.KindUnhost, channel, viewers))
			return
		}
		c.Emit(chat.NewEvent(chat.KindHosting, channel, target, viewers))
	}
}

// emitRaw испускает raw_message: копию разобранной строки и саму строку в разобранном виде.
func (c *Conn) emitRaw(raw, command string, tags map[string]string) {
	c.Emit(chat.NewEvent(chat.KindRawMessage, rawObject(raw, command, tags), rawObject(raw, command, tags)))
}

func rawObject(raw, command string, tags map[string]string) map[string]any {
	return map[string]any{
		"raw":     raw,
		"command": command,
		"tags":    tagMap(tags),
		"params":  commandParams(raw, command),
	}
}

// commandParams возвращает параметры IRC-строки после команды.
func commandParams(raw, command string) []string {
	if command == "" {
		return []string{}
	}
	fields := strings.Fields(raw)
	for i, f := range fields {
		if f == command {
			return fields[i+1:]
		}
	}
	return []string{}
}

func userstate(tags map[string]string, user twitchirc.User, messageType string) map[string]any {
	state := tagMap(tags)
	if user.Name != "" {
		state["username"] = user.Name
	}
	if user.DisplayName != "" {
		state["display-name"] = user.DisplayName
	}
	if user.ID != "" {
		state["user-id"] = user.ID
	}
	state["message-type"] = messageType
	return state
}

func tagMap(tags map[string]string) map[string]any {
	out := make(map[string]any, len(tags)+4)
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func subMethods(params map[string]string) map[string]any {
	plan := params["msg-param-sub-plan"]
	return map[string]any{
		"prime":    plan == "Prime",
		"plan":     nullable(plan),
		"planName": nullable(params["msg-param-sub-plan-name"]),
	}
}

func paramInt(params map[string]string, key string) int {
	n, _ := strconv.Atoi(params[key])
	return n
}

func parseList(re *regexp.Regexp, message string) []string {
	match := re.FindStringSubmatch(message)
	if match == nil {
		return []string{}
	}
	var out []string
	for _, name := range strings.Split(strings.TrimSuffix(strings.TrimSpace(match[1]), "."), ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, strings.ToLower(name))
		}
	}
	if out == nil {
		return []string{}
	}
	return out
}

// nullable превращает пустую строку в JSON null.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
