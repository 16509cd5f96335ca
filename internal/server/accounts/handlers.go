package accounts

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/protocol"
	"github.com/dmitrijs2005/gatekeeper/internal/server/conn"
	"github.com/dmitrijs2005/gatekeeper/internal/server/dispatch"
)

// Handlers adapts the account service to the dispatch chain.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// Mount registers the account opcodes with their fixed permission and
// encryption requirements.
func (h *Handlers) Mount(r *dispatch.Registry) {
	r.Register(protocol.OpRegister, dispatch.Registration{
		Handler:          h.Register,
		MinPermission:    conn.PermissionGuest,
		RequireEncrypted: true,
	})
	r.Register(protocol.OpLogin, dispatch.Registration{
		Handler:          h.Login,
		MinPermission:    conn.PermissionGuest,
		RequireEncrypted: true,
	})
	r.Register(protocol.OpLogout, dispatch.Registration{
		Handler:          h.Logout,
		MinPermission:    conn.PermissionUser,
		RequireEncrypted: false,
	})
	r.Register(protocol.OpChangePassword, dispatch.Registration{
		Handler:          h.ChangePassword,
		MinPermission:    conn.PermissionUser,
		RequireEncrypted: true,
	})
}

func (h *Handlers) Register(ctx context.Context, req *dispatch.Request) (protocol.Packet, error) {
	ar, err := accountRequest(req)
	if err != nil {
		return nil, err
	}
	if err := h.svc.Register(ctx, ar.Username, ar.Password); err != nil {
		return nil, err
	}
	return okResponse(protocol.OpRegister), nil
}

func (h *Handlers) Login(ctx context.Context, req *dispatch.Request) (protocol.Packet, error) {
	ar, err := accountRequest(req)
	if err != nil {
		return nil, err
	}
	if err := h.svc.Login(ctx, req.Conn, ar.Username, ar.Password); err != nil {
		return nil, err
	}
	return okResponse(protocol.OpLogin), nil
}

func (h *Handlers) Logout(ctx context.Context, req *dispatch.Request) (protocol.Packet, error) {
	if _, err := accountRequest(req); err != nil {
		return nil, err
	}
	if err := h.svc.Logout(ctx, req.Conn); err != nil {
		return nil, err
	}
	return okResponse(protocol.OpLogout), nil
}

func (h *Handlers) ChangePassword(ctx context.Context, req *dispatch.Request) (protocol.Packet, error) {
	ar, err := accountRequest(req)
	if err != nil {
		return nil, err
	}
	if err := h.svc.ChangePassword(ctx, req.Conn, ar.Password, ar.NewPassword); err != nil {
		return nil, err
	}
	return okResponse(protocol.OpChangePassword), nil
}

func accountRequest(req *dispatch.Request) (*protocol.AccountRequest, error) {
	ar, ok := req.Packet.(*protocol.AccountRequest)
	if !ok {
		return nil, fmt.Errorf("%w: expected account packet, got magic 0x%08X",
			common.ErrorUnsupportedPacket, req.Packet.Magic())
	}
	return ar, nil
}

func okResponse(op uint16) *protocol.StatusResponse {
	resp := &protocol.StatusResponse{Status: protocol.StatusOK, Advice: protocol.AdviceDoNotRetry, Message: "OK"}
	resp.SetOpcode(op)
	return resp
}
