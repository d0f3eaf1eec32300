package chathandler

type ErrorResponse struct {
	Code  string `json:"code"  example:"not_in_room"`
	Kind  string `json:"kind"  example:"authorization"`
	Error string `json:"error" example:"not a member of this room"`
} // @name ErrorResponse

type MessagesQuery struct {
	Limit int `form:"limit,default=50" binding:"gte=0,lte=500"`
} // @name MessagesQuery

type ConversationQuery struct {
	UserA string `form:"user_a"           binding:"required"`
	UserB string `form:"user_b"           binding:"required"`
	Limit int    `form:"limit,default=50" binding:"gte=0,lte=500"`
} // @name ConversationQuery

type SearchQuery struct {
	Query  string `form:"q"                binding:"required"`
	RoomID string `form:"room_id"`
	UserID string `form:"user_id"`
	Limit  int    `form:"limit,default=20" binding:"gte=0,lte=200"`
} // @name SearchQuery

type OpenBroadcastBody struct {
	ActorID string `json:"actor_id" binding:"required" example:"mod1"`
	HostID  string `json:"host_id"  binding:"required" example:"user123"`
} // @name OpenBroadcastRequest

type KickBody struct {
	ActorID string `json:"actor_id" binding:"required" example:"mod1"`
	Reason  string `json:"reason"                      example:"spam"`
} // @name KickRequest

type MuteBody struct {
	ActorID string `json:"actor_id" binding:"required" example:"mod1"`
	Muted   *bool  `json:"muted"    binding:"required" example:"true"`
} // @name MuteRequest

type RoleResponse struct {
	UserID string `json:"user_id" example:"user123"`
	Role   string `json:"role"    example:"moderator"`
} // @name RoleResponse

type UsersResponse struct {
	Users []string `json:"users"`
} // @name UsersResponse

type ReconcileResponse struct {
	Removed int `json:"removed"`
} // @name ReconcileResponse
