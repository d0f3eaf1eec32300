package chathandler

import (
	"context"
	"errors"
	"net/http"

	"chatpresence/internal/apperr"
	"chatpresence/internal/authz"
	"chatpresence/internal/dispatcher"
	"chatpresence/internal/msgcache"
	"chatpresence/internal/speaker"
	"chatpresence/internal/storage"

	"github.com/gin-gonic/gin"
)

// Core is the part of the dispatcher the REST API drives.
type Core interface {
	Stats(ctx context.Context) (dispatcher.Stats, error)
	RoomMessages(ctx context.Context, roomID string, limit int) ([]msgcache.Message, error)
	PrivateMessages(ctx context.Context, senderID, receiverID string, limit int) ([]msgcache.Message, error)
	Search(ctx context.Context, query string, f msgcache.SearchFilter) ([]msgcache.Message, error)
	Speakers(ctx context.Context, roomID string) (speaker.Snapshot, error)
	OpenBroadcast(ctx context.Context, actorID, roomID, hostID string) (speaker.Snapshot, error)
	Kick(ctx context.Context, actorID, targetID, reason string) error
	SetMuted(ctx context.Context, actorID, targetID string, muted bool) error
	RefreshRole(ctx context.Context, userID string) (authz.Role, error)
	Reconcile(ctx context.Context) (int, error)
}

// Directory answers cluster-wide presence questions. It may be nil when
// Redis is disabled.
type Directory interface {
	Online(ctx context.Context) ([]string, error)
	RoomMembers(ctx context.Context, roomID string) ([]string, error)
}

type Handler struct {
	core Core
	dir  Directory
}

func New(core Core, dir Directory) *Handler { return &Handler{core: core, dir: dir} }

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/stats", h.stats)
	r.GET("/rooms/:id/messages", h.roomMessages)
	r.GET("/rooms/:id/speakers", h.speakers)
	r.POST("/rooms/:id/broadcast", h.openBroadcast)
	r.GET("/rooms/:id/members", h.roomMembers)
	r.GET("/conversations", h.conversation)
	r.GET("/messages/search", h.search)
	r.GET("/users/online", h.online)
	r.POST("/users/:id/kick", h.kick)
	r.POST("/users/:id/mute", h.mute)
	r.POST("/users/:id/role/refresh", h.refreshRole)
	r.POST("/admin/reconcile", h.reconcile)
}

func fail(c *gin.Context, err error) {
	b := apperr.BodyOf(err)
	c.JSON(apperr.HTTPStatus(err), ErrorResponse{Code: b.Code, Kind: b.Kind, Error: b.Error})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Code: "invalid_request", Kind: apperr.Validation.String(), Error: err.Error()})
}

// @Summary		Core statistics
// @Description	Online users, room occupancy, cache sizes and dropped frames of this instance.
// @Tags			Admin
// @Success		200	{object}	dispatcher.Stats
// @Failure		503	{object}	ErrorResponse
// @Router			/stats [get]
func (h *Handler) stats(c *gin.Context) {
	s, err := h.core.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// @Summary		Cached room messages
// @Description	Returns the newest cached messages of a room, oldest first.
// @Tags			Rooms
// @Param			id		path		string	true	"Room ID"				default(general)
// @Param			limit	query		int		false	"Max results (0-500)"	minimum(0)	maximum(500)	default(50)
// @Success		200		{array}		msgcache.Message
// @Failure		400		{object}	ErrorResponse
// @Router			/rooms/{id}/messages [get]
func (h *Handler) roomMessages(c *gin.Context) {
	var q MessagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.core.RoomMessages(c.Request.Context(), c.Param("id"), q.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Cached conversation
// @Description	Returns the cached private messages between two users.
// @Tags			Messages
// @Param			user_a	query		string	true	"First user"
// @Param			user_b	query		string	true	"Second user"
// @Param			limit	query		int		false	"Max results (0-500)"	minimum(0)	maximum(500)	default(50)
// @Success		200		{array}		msgcache.Message
// @Failure		400		{object}	ErrorResponse
// @Router			/conversations [get]
func (h *Handler) conversation(c *gin.Context) {
	var q ConversationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.core.PrivateMessages(c.Request.Context(), q.UserA, q.UserB, q.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Search cached messages
// @Description	Case-insensitive search over content and sender name, newest first.
// @Tags			Messages
// @Param			q		query		string	true	"Search text"
// @Param			room_id	query		string	false	"Limit to one room"
// @Param			user_id	query		string	false	"Search this user's conversations"
// @Param			limit	query		int		false	"Max results (0-200)"	minimum(0)	maximum(200)	default(20)
// @Success		200		{array}		msgcache.Message
// @Failure		400		{object}	ErrorResponse
// @Router			/messages/search [get]
func (h *Handler) search(c *gin.Context) {
	var q SearchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.core.Search(c.Request.Context(), q.Query, msgcache.SearchFilter{
		RoomID: q.RoomID,
		UserID: q.UserID,
		Limit:  q.Limit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Broadcast room speakers
// @Description	Host, speakers and mic queue of a broadcast room.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"
// @Success		200	{object}	speaker.Snapshot
// @Failure		400	{object}	ErrorResponse
// @Router			/rooms/{id}/speakers [get]
func (h *Handler) speakers(c *gin.Context) {
	snap, err := h.core.Speakers(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// @Summary		Open a broadcast room
// @Description	Turns a room into a broadcast room with the given host, or hands it to a new host. The actor needs the promote permission or must be the current host.
// @Tags			Rooms
// @Param			id		path		string				true	"Room ID"
// @Param			body	body		OpenBroadcastBody	true	"Host payload"
// @Success		200		{object}	speaker.Snapshot
// @Failure		400		{object}	ErrorResponse
// @Failure		403		{object}	ErrorResponse
// @Router			/rooms/{id}/broadcast [post]
func (h *Handler) openBroadcast(c *gin.Context) {
	var body OpenBroadcastBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	snap, err := h.core.OpenBroadcast(c.Request.Context(), body.ActorID, c.Param("id"), body.HostID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// @Summary		Cluster-wide room members
// @Description	Members of a room across every instance, read from Redis.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"
// @Success		200	{object}	UsersResponse
// @Failure		503	{object}	ErrorResponse
// @Router			/rooms/{id}/members [get]
func (h *Handler) roomMembers(c *gin.Context) {
	if h.dir == nil {
		fail(c, dispatcher.ErrUnavailable)
		return
	}
	ids, err := h.dir.RoomMembers(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "directory_unavailable", Kind: apperr.Transient.String(), Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, UsersResponse{Users: ids})
}

// @Summary		Cluster-wide online users
// @Description	Users online on any instance, read from Redis.
// @Tags			Users
// @Success		200	{object}	UsersResponse
// @Failure		503	{object}	ErrorResponse
// @Router			/users/online [get]
func (h *Handler) online(c *gin.Context) {
	if h.dir == nil {
		fail(c, dispatcher.ErrUnavailable)
		return
	}
	ids, err := h.dir.Online(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "directory_unavailable", Kind: apperr.Transient.String(), Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, UsersResponse{Users: ids})
}

// @Summary		Kick a user
// @Description	Disconnects a user. The actor needs the kick permission.
// @Tags			Users
// @Param			id		path	string		true	"User ID"
// @Param			body	body	KickBody	true	"Kick payload"
// @Success		202
// @Failure		403	{object}	ErrorResponse
// @Failure		409	{object}	ErrorResponse
// @Router			/users/{id}/kick [post]
func (h *Handler) kick(c *gin.Context) {
	var body KickBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.core.Kick(c.Request.Context(), body.ActorID, c.Param("id"), body.Reason); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// @Summary		Mute or unmute a user
// @Description	Muted users cannot send messages. The actor needs the mute permission.
// @Tags			Users
// @Param			id		path	string		true	"User ID"
// @Param			body	body	MuteBody	true	"Mute payload"
// @Success		202
// @Failure		403	{object}	ErrorResponse
// @Failure		409	{object}	ErrorResponse
// @Router			/users/{id}/mute [post]
func (h *Handler) mute(c *gin.Context) {
	var body MuteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.core.SetMuted(c.Request.Context(), body.ActorID, c.Param("id"), *body.Muted); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// @Summary		Reload a user's role
// @Description	Reads the role from Postgres and applies it to the live session.
// @Tags			Users
// @Param			id	path		string	true	"User ID"
// @Success		200	{object}	RoleResponse
// @Failure		404	{object}	ErrorResponse
// @Router			/users/{id}/role/refresh [post]
func (h *Handler) refreshRole(c *gin.Context) {
	id := c.Param("id")
	role, err := h.core.RefreshRole(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: apperr.CodeOf(err), Kind: apperr.KindOf(err).String(), Error: err.Error()})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, RoleResponse{UserID: id, Role: string(role)})
}

// @Summary		Reconcile presence
// @Description	Drops registry entries whose websocket is gone.
// @Tags			Admin
// @Success		200	{object}	ReconcileResponse
// @Router			/admin/reconcile [post]
func (h *Handler) reconcile(c *gin.Context) {
	n, err := h.core.Reconcile(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ReconcileResponse{Removed: n})
}
