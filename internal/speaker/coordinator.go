// Package speaker runs the microphone queue of broadcast rooms: listeners
// request the mic, the host or a moderator approves or rejects, and approved
// speakers can be taken off stage again.
//
// A Coordinator is owned by the dispatcher loop and is not safe for
// concurrent use.
package speaker

import (
	"slices"

	"chatpresence/internal/apperr"
	"chatpresence/internal/authz"
)

var (
	ErrNotBroadcastRoom = apperr.New(apperr.Validation, "not_broadcast_room", "room is not a broadcast room")
	ErrAlreadyQueued    = apperr.New(apperr.Conflict, "already_queued", "already waiting for the mic")
	ErrAlreadySpeaking  = apperr.New(apperr.Conflict, "already_speaking", "already speaking")
	ErrNotQueued        = apperr.New(apperr.Conflict, "not_queued", "user is not waiting for the mic")
	ErrCannotRemoveHost = apperr.New(apperr.Conflict, "cannot_remove_host", "the host cannot be removed")
	ErrForbidden        = apperr.New(apperr.Authorization, "mic_forbidden", "not allowed to manage microphones")
)

// Snapshot is the read-only state of one broadcast room.
type Snapshot struct {
	RoomID   string   `json:"roomId"`
	HostID   string   `json:"hostId"`
	Speakers []string `json:"speakers"`
	Queue    []string `json:"queue"`
}

type state struct {
	hostID   string
	speakers map[string]struct{}
	queue    []string
}

type Coordinator struct {
	rooms map[string]*state
}

func NewCoordinator() *Coordinator {
	return &Coordinator{rooms: make(map[string]*state)}
}

// Open starts tracking roomID as a broadcast room hosted by hostID. Opening
// an already open room only changes the host.
func (c *Coordinator) Open(roomID, hostID string) {
	if st, ok := c.rooms[roomID]; ok {
		delete(st.speakers, hostID)
		st.queue = slices.DeleteFunc(st.queue, func(id string) bool { return id == hostID })
		st.hostID = hostID
		return
	}
	c.rooms[roomID] = &state{hostID: hostID, speakers: make(map[string]struct{})}
}

func (c *Coordinator) room(roomID string) (*state, error) {
	st, ok := c.rooms[roomID]
	if !ok {
		return nil, ErrNotBroadcastRoom
	}
	return st, nil
}

func (st *state) queued(userID string) bool { return slices.Contains(st.queue, userID) }

func (st *state) speaking(userID string) bool {
	if userID == st.hostID {
		return true
	}
	_, ok := st.speakers[userID]
	return ok
}

func (st *state) dequeue(userID string) bool {
	i := slices.Index(st.queue, userID)
	if i < 0 {
		return false
	}
	st.queue = slices.Delete(st.queue, i, i+1)
	return true
}

func (st *state) authorize(actorID string, role authz.Role, action authz.Action) error {
	if actorID != "" && actorID == st.hostID {
		return nil
	}
	if authz.CanModerate(role, action) {
		return nil
	}
	return ErrForbidden
}

// RequestMic appends userID to the tail of the queue.
func (c *Coordinator) RequestMic(roomID, userID string) error {
	st, err := c.room(roomID)
	if err != nil {
		return err
	}
	if st.speaking(userID) {
		return ErrAlreadySpeaking
	}
	if st.queued(userID) {
		return ErrAlreadyQueued
	}
	st.queue = append(st.queue, userID)
	return nil
}

// ApproveMic moves userID from the queue onto the stage. approverRole must be
// the approver's current role.
func (c *Coordinator) ApproveMic(roomID, userID, approverID string, approverRole authz.Role) error {
	st, err := c.room(roomID)
	if err != nil {
		return err
	}
	if err := st.authorize(approverID, approverRole, authz.ApproveMic); err != nil {
		return err
	}
	if !st.dequeue(userID) {
		return ErrNotQueued
	}
	st.speakers[userID] = struct{}{}
	return nil
}

// RejectMic drops userID from the queue without giving them the mic.
func (c *Coordinator) RejectMic(roomID, userID, approverID string, approverRole authz.Role) error {
	st, err := c.room(roomID)
	if err != nil {
		return err
	}
	if err := st.authorize(approverID, approverRole, authz.ApproveMic); err != nil {
		return err
	}
	if !st.dequeue(userID) {
		return ErrNotQueued
	}
	return nil
}

// RemoveSpeaker takes userID off stage. Speakers may always step down
// themselves; removing someone who is not speaking succeeds.
func (c *Coordinator) RemoveSpeaker(roomID, userID, removerID string, removerRole authz.Role) error {
	st, err := c.room(roomID)
	if err != nil {
		return err
	}
	if userID == st.hostID {
		return ErrCannotRemoveHost
	}
	if removerID != userID {
		if err := st.authorize(removerID, removerRole, authz.RemoveSpeaker); err != nil {
			return err
		}
	}
	delete(st.speakers, userID)
	return nil
}

// Drop forgets userID's queue position and speaker slot, used when the user
// leaves the room. The host is never dropped.
func (c *Coordinator) Drop(roomID, userID string) bool {
	st, ok := c.rooms[roomID]
	if !ok || userID == st.hostID {
		return false
	}
	_, speaking := st.speakers[userID]
	delete(st.speakers, userID)
	return st.dequeue(userID) || speaking
}

func (c *Coordinator) Snapshot(roomID string) (Snapshot, error) {
	st, err := c.room(roomID)
	if err != nil {
		return Snapshot{}, err
	}
	speakers := make([]string, 0, len(st.speakers))
	for id := range st.speakers {
		speakers = append(speakers, id)
	}
	slices.Sort(speakers)
	return Snapshot{
		RoomID:   roomID,
		HostID:   st.hostID,
		Speakers: speakers,
		Queue:    append([]string{}, st.queue...),
	}, nil
}
