package chat

// Kind — тип события чата. Набор закрыт: каждому значению соответствует
// строка в kindTable с именем канала и порядком полей полезной нагрузки.
type Kind int

const (
	KindAction Kind = iota
	KindAnonGiftPaidUpgrade
	KindBan
	KindChat
	KindCheer
	KindClearChat
	KindConnected
	KindConnecting
	KindDisconnected
	KindEmoteOnly
	KindEmoteSets
	KindFollowersOnly
	KindGiftPaidUpgrade
	KindHosted
	KindHosting
	KindJoin
	KindLogon
	KindMessage
	KindMessageDeleted
	KindMod
	KindMods
	KindNotice
	KindPart
	KindPing
	KindPong
	KindR9kBeta
	KindRaided
	KindRawMessage
	KindReconnect
	KindResub
	KindRoomState
	KindServerChange
	KindSlowMode
	KindSubGift
	KindSubMysteryGift
	KindSubscribers
	KindSubscription
	KindTimeout
	KindUnhost
	KindUnmod
	KindVips
	KindWhisper

	kindCount
)

type kindInfo struct {
	name   string
	fields []string
}

// kindTable повторяет списки аргументов событий tmi.js: одно поле на аргумент,
// в порядке аргументов. Размер массива привязан к kindCount.
var kindTable = [kindCount]kindInfo{
	KindAction:              {"action", []string{"channel", "userstate", "message", "self"}},
	KindAnonGiftPaidUpgrade: {"anongiftpaidupgrade", []string{"channel", "username", "userstate"}},
	KindBan:                 {"ban", []string{"channel", "username", "reason"}},
	KindChat:                {"chat", []string{"channel", "userstate", "message", "self"}},
	KindCheer:               {"cheer", []string{"channel", "userstate", "message"}},
	KindClearChat:           {"clearchat", []string{"channel"}},
	KindConnected:           {"connected", []string{"address", "port"}},
	KindConnecting:          {"connecting", []string{"address", "port"}},
	KindDisconnected:        {"disconnected", []string{"reason"}},
	KindEmoteOnly:           {"emoteonly", []string{"channel", "enabled"}},
	KindEmoteSets:           {"emotesets", []string{"sets", "obj"}},
	KindFollowersOnly:       {"followersonly", []string{"channel", "enabled", "length"}},
	KindGiftPaidUpgrade:     {"giftpaidupgrade", []string{"channel", "username", "sender", "userstate"}},
	KindHosted:              {"hosted", []string{"channel", "username", "viewers", "autohost"}},
	KindHosting:             {"hosting", []string{"channel", "target", "viewers"}},
	KindJoin:                {"join", []string{"channel", "username", "self"}},
	KindLogon:               {"logon", nil},
	KindMessage:             {"message", []string{"channel", "userstate", "message", "self"}},
	KindMessageDeleted:      {"messagedeleted", []string{"channel", "username", "deletedMessage", "userstate"}},
	KindMod:                 {"mod", []string{"channel", "username"}},
	KindMods:                {"mods", []string{"channel", "mods"}},
	KindNotice:              {"notice", []string{"channel", "msgid", "message"}},
	KindPart:                {"part", []string{"channel", "username", "self"}},
	KindPing:                {"ping", nil},
	KindPong:                {"pong", []string{"latency"}},
	KindR9kBeta:             {"r9kbeta", []string{"channel", "enabled"}},
	KindRaided:              {"raided", []string{"channel", "username", "viewers"}},
	KindRawMessage:          {"raw_message", []string{"messageCloned", "message"}},
	KindReconnect:           {"reconnect", nil},
	KindResub:               {"resub", []string{"channel", "username", "months", "message", "userstate", "methods"}},
	KindRoomState:           {"roomstate", []string{"channel", "state"}},
	KindServerChange:        {"serverchange", []string{"channel"}},
	KindSlowMode:            {"slowmode", []string{"channel", "enabled", "length"}},
	KindSubGift:             {"subgift", []string{"channel", "username", "streakMonths", "recipient", "methods", "userstate"}},
	KindSubMysteryGift:      {"submysterygift", []string{"channel", "username", "numbOfSubs", "methods", "userstate"}},
	KindSubscribers:         {"subscribers", []string{"channel", "enabled"}},
	KindSubscription:        {"subscription", []string{"channel", "username", "method", "message", "userstate"}},
	KindTimeout:             {"timeout", []string{"channel", "username", "reason", "duration"}},
	KindUnhost:              {"unhost", []string{"channel", "viewers"}},
	KindUnmod:               {"unmod", []string{"channel", "username"}},
	KindVips:                {"vips", []string{"channel", "vips"}},
	KindWhisper:             {"whisper", []string{"from", "userstate", "message", "self"}},
}

// Kinds возвращает все известные типы событий в порядке объявления.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Valid сообщает, входит ли k в закрытый набор.
func (k Kind) Valid() bool {
	return k >= 0 && k < kindCount
}

// String возвращает имя события, оно же суффикс канала брокера.
func (k Kind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return kindTable[k].name
}

// Fields возвращает имена полей полезной нагрузки в порядке аргументов.
func (k Kind) Fields() []string {
	if !k.Valid() {
		return nil
	}
	return append([]string(nil), kindTable[k].fields...)
}

// ParseKind ищет тип по имени события.
func ParseKind(name string) (Kind, bool) {
	for k := Kind(0); k < kindCount; k++ {
		if kindTable[k].name == name {
			return k, true
		}
	}
	return 0, false
}
