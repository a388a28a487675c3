package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"supportdesk/internal/domain"
	"supportdesk/internal/store"

	"github.com/spf13/cobra"
)

// openStore loads config and opens the ticket database.
func openStore() (*store.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Store.DBPath, logger)
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func ticketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Create and inspect tickets",
	}

	var title, description, priority, customer, assignee string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			t, err := st.CreateTicket(cmd.Context(), domain.Ticket{
				Title:       title,
				Description: description,
				Priority:    domain.TicketPriority(priority),
				CustomerID:  customer,
				AssigneeID:  assignee,
			})
			if err != nil {
				return err
			}
			printJSON(t)
			return nil
		},
	}
	create.Flags().StringVar(&title, "title", "", "ticket title")
	create.Flags().StringVar(&description, "description", "", "ticket description")
	create.Flags().StringVar(&priority, "priority", string(domain.PriorityMedium), "low, medium, high or urgent")
	create.Flags().StringVar(&customer, "customer", "", "customer ID")
	create.Flags().StringVar(&assignee, "assignee", "", "assignee ID")
	create.MarkFlagRequired("title")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Show a ticket with its conversation and audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()
			t, err := st.GetTicket(ctx, args[0])
			if err != nil {
				return err
			}
			msgs, err := st.ListMessages(ctx, t.ID)
			if err != nil {
				return err
			}
			audit, err := st.ListAudit(ctx, t.ID)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"ticket": t, "messages": msgs, "audit": audit})
			return nil
		},
	})

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recently updated tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			tickets, err := st.ListTickets(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, t := range tickets {
				fmt.Printf("%-36s  %-11s  %-6s  %s\n", t.ID, t.Status, t.Priority, t.Title)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum tickets to show")
	cmd.AddCommand(list)

	var (
		author   string
		internal bool
	)
	reply := &cobra.Command{
		Use:   "reply [id] [text...]",
		Short: "Append a message to a ticket conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()
			if _, err := st.GetTicket(ctx, args[0]); err != nil {
				return err
			}
			msg, err := st.AddMessage(ctx, domain.Message{
				TicketID:   args[0],
				AuthorID:   author,
				Body:       strings.Join(args[1:], " "),
				IsInternal: internal,
			})
			if err != nil {
				return err
			}
			printJSON(msg)
			return nil
		},
	}
	reply.Flags().StringVar(&author, "author", "cli", "author ID")
	reply.Flags().BoolVar(&internal, "internal", false, "hide the message from the customer")
	cmd.AddCommand(reply)

	return cmd
}

func tagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage the tag catalog",
	}

	var color string
	add := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a tag to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			tag, err := st.CreateTag(cmd.Context(), args[0], color)
			if err != nil {
				return err
			}
			printJSON(tag)
			return nil
		},
	}
	add.Flags().StringVar(&color, "color", "", "display color")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalog tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			tags, err := st.ListTags(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tags {
				fmt.Printf("%-24s %s\n", t.Name, t.Color)
			}
			return nil
		},
	})
	return cmd
}
