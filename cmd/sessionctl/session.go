package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/sessionstate/pkg/logger"
	"github.com/dmitrymomot/sessionstate/pkg/session"
)

func newInspectCmd(a *app) *cobra.Command {
	var withData bool
	cmd := &cobra.Command{
		Use:   "inspect <session-id>",
		Short: "Print the session header and, with --data, its variables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.provider.Load(cmd.Context(), args[0], !withData)
			if err != nil {
				return fmt.Errorf("load session %q: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), newRecordView(rec, a.now()))
		},
	}
	cmd.Flags().BoolVar(&withData, "data", false, "include session variables")
	return cmd
}

func newCreateCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "create [session-id]",
		Short: "Create an uninitialized session and print its id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := session.NewID()
			if len(args) == 1 {
				id = args[0]
			}
			if err := a.provider.CreateUninitialized(cmd.Context(), id, timeout); err != nil {
				return fmt.Errorf("create session %q: %w", id, err)
			}
			a.log.InfoContext(cmd.Context(), "session created", logger.SessionID(id))
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "session timeout (default SESSION_TIMEOUT)")
	return cmd
}

func newTouchCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "touch <session-id>",
		Short: "Reset the expiry of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.provider.Touch(cmd.Context(), args[0], timeout); err != nil {
				return fmt.Errorf("touch session %q: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Touched session '%s'\n", args[0])
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "new session timeout (default SESSION_TIMEOUT)")
	return cmd
}

func newUnlockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <session-id>",
		Short: "Force-release the lock currently held on a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, id := cmd.Context(), args[0]
			rec, err := a.provider.Load(ctx, id, true)
			if err != nil {
				return fmt.Errorf("load session %q: %w", id, err)
			}
			if !rec.Locked() {
				fmt.Fprintf(cmd.OutOrStdout(), "Session '%s' is not locked\n", id)
				return nil
			}
			if err := a.provider.Release(ctx, id, rec.LockToken); err != nil {
				return fmt.Errorf("release session %q: %w", id, err)
			}
			age := rec.LockAge(a.now())
			a.log.WarnContext(ctx, "lock force-released",
				logger.SessionID(id),
				logger.LockToken(rec.LockToken),
				logger.Duration(age),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Released lock %d on session '%s' (held %s)\n", rec.LockToken, id, age.Round(time.Second))
			return nil
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <session-id>...",
		Short: "Remove one or more sessions, locked or not",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var errs []error
			for _, id := range args {
				rec, err := a.provider.Load(ctx, id, true)
				if err == nil {
					err = a.provider.Remove(ctx, id, rec.LockToken)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("remove session %q: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", id)
			}
			return errors.Join(errs...)
		},
	}
}

type recordView struct {
	ID            string     `json:"id"`
	Flag          string     `json:"flag"`
	Timeout       string     `json:"timeout"`
	Locked        bool       `json:"locked"`
	LockToken     uint64     `json:"lock_token,omitempty"`
	LockTime      *time.Time `json:"lock_time,omitempty"`
	LockAge       string     `json:"lock_age,omitempty"`
	HeaderVersion uint64     `json:"header_version"`
	BodyVersion   uint64     `json:"body_version,omitempty"`
	Items         []itemView `json:"items,omitempty"`
}

type itemView struct {
	Name   string `json:"name"`
	Value  string `json:"value,omitempty"`
	Base64 string `json:"base64,omitempty"`
}

func newRecordView(rec *session.Record, now time.Time) recordView {
	v := recordView{
		ID:            rec.ID,
		Flag:          rec.Flag.String(),
		Timeout:       rec.Timeout.String(),
		Locked:        rec.Locked(),
		HeaderVersion: uint64(rec.HeaderVersion),
		BodyVersion:   uint64(rec.BodyVersion),
	}
	if rec.Locked() {
		lockTime := rec.LockTime.UTC()
		v.LockToken = rec.LockToken
		v.LockTime = &lockTime
		v.LockAge = rec.LockAge(now).Round(time.Second).String()
	}
	if rec.Items != nil {
		for _, name := range rec.Items.Names() {
			value, _ := rec.Items.Get(name)
			item := itemView{Name: name}
			if utf8.Valid(value) {
				item.Value = string(value)
			} else {
				item.Base64 = base64.StdEncoding.EncodeToString(value)
			}
			v.Items = append(v.Items, item)
		}
	}
	return v
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
