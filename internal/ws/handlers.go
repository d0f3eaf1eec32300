package ws

import (
	"context"

	"chatpresence/internal/dispatcher"
	"chatpresence/internal/msgcache"
	"chatpresence/internal/speaker"
)

func (s *WsServer) registerHandlers() {
	Register(s.router, "join-room",
		func(ctx context.Context, cc *ConnContext, req RoomRequest) (AckBody, error) {
			return AckBody{}, s.core.JoinRoom(ctx, cc.UserID, req.RoomID)
		})

	Register(s.router, "leave-room",
		func(ctx context.Context, cc *ConnContext, req RoomRequest) (AckBody, error) {
			return AckBody{}, s.core.LeaveRoom(ctx, cc.UserID, req.RoomID)
		})

	Register(s.router, "send-message",
		func(ctx context.Context, cc *ConnContext, req SendMessageRequest) (msgcache.Message, error) {
			return s.core.SendMessage(ctx, cc.UserID, dispatcher.SendRequest{
				Content:    req.Content,
				Kind:       req.Kind,
				RoomID:     req.RoomID,
				ReceiverID: req.ReceiverID,
			})
		})

	Register(s.router, "edit-message",
		func(ctx context.Context, cc *ConnContext, req EditMessageRequest) (msgcache.Message, error) {
			return s.core.EditMessage(ctx, cc.UserID, req.MessageID, req.Content)
		})

	Register(s.router, "delete-message",
		func(ctx context.Context, cc *ConnContext, req DeleteMessageRequest) (AckBody, error) {
			return AckBody{}, s.core.DeleteMessage(ctx, cc.UserID, req.MessageID)
		})

	Register(s.router, "typing",
		func(ctx context.Context, cc *ConnContext, req TypingRequest) (AckBody, error) {
			return AckBody{}, s.core.Typing(ctx, cc.UserID, req.IsTyping)
		})

	Register(s.router, "request-online-users",
		func(ctx context.Context, cc *ConnContext, _ struct{}) (dispatcher.RosterBody, error) {
			return s.core.OnlineUsers(ctx, cc.UserID)
		})

	Register(s.router, "room-history",
		func(ctx context.Context, cc *ConnContext, req RoomHistoryRequest) (AckBody, error) {
			_, err := s.core.RoomHistory(ctx, cc.UserID, req.RoomID, req.Limit)
			return AckBody{}, err
		})

	Register(s.router, "request-mic",
		func(ctx context.Context, cc *ConnContext, req RoomRequest) (speaker.Snapshot, error) {
			return s.core.RequestMic(ctx, cc.UserID, req.RoomID)
		})

	mic := func(action dispatcher.MicAction) func(context.Context, *ConnContext, MicTargetRequest) (speaker.Snapshot, error) {
		return func(ctx context.Context, cc *ConnContext, req MicTargetRequest) (speaker.Snapshot, error) {
			return s.core.ManageMic(ctx, cc.UserID, req.RoomID, req.TargetUserID, action)
		}
	}
	Register(s.router, "approve-mic", mic(dispatcher.MicApprove))
	Register(s.router, "reject-mic", mic(dispatcher.MicReject))
	Register(s.router, "remove-speaker", mic(dispatcher.MicRemove))

	Register(s.router, "ping",
		func(ctx context.Context, cc *ConnContext, _ struct{}) (AckBody, error) {
			return AckBody{}, s.core.Touch(ctx, cc.UserID)
		})
}
