package models

// Realtime event names. Clients depend on these strings.
const (
	EventError = "error"

	EventParentRegister        = "parent:register"
	EventParentRegistered      = "parent:registered"
	EventParentChildRegistered = "parent:childRegistered"
	EventChildRegister         = "child:register"
	EventChildRegistered       = "child:registered"

	EventUserJoined = "user:joined"
	EventUserLeft   = "user:left"

	EventMessageSend     = "message:send"
	EventMessageVoice    = "message:voice"
	EventMessageSent     = "message:sent"
	EventMessageReceived = "message:received"
	EventMessageWarning  = "message:warning"
	EventMessageBlocked  = "message:blocked"

	EventLocationUpdate     = "location:update"
	EventParentGetLocation  = "parent:getLocation"
	EventParentLocationData = "parent:locationData"
	EventParentGetSafetyLog = "parent:getSafetyLogs"
	EventParentSafetyLogs   = "parent:safetyLogs"

	EventConversationJoin = "conversation:join"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
)
