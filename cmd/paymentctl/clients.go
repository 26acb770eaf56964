package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/app/repository"
)

func clientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage API clients",
	}
	cmd.AddCommand(clientsCreateCmd())
	cmd.AddCommand(clientsRotateCmd())
	cmd.AddCommand(clientsRevokeCmd())
	cmd.AddCommand(clientsListCmd())
	return cmd
}

func clientsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a client and print its API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			role, _ := cmd.Flags().GetString("role")
			client := &models.APIClient{Name: args[0], Role: role}
			key, err := client.IssueAPIKey()
			if err != nil {
				return err
			}
			if err := rt.repos.GetAPIClientRepository().Create(client); err != nil {
				return err
			}
			fmt.Printf("Client %q (%s) created\nAPI key: %s\n", client.Name, client.Role, key)
			return nil
		},
	}
	cmd.Flags().String("role", models.APIClientRoleService, "Client role (service, admin)")
	return cmd
}

func clientsRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate [name]",
		Short: "Issue a new API key, invalidating the old one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(args[0], func(repo repository.APIClientRepository, client *models.APIClient) error {
				key, err := client.IssueAPIKey()
				if err != nil {
					return err
				}
				if err := repo.Save(client); err != nil {
					return err
				}
				fmt.Printf("API key: %s\n", key)
				return nil
			})
		},
	}
}

func clientsRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [name]",
		Short: "Revoke a client's API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(args[0], func(repo repository.APIClientRepository, client *models.APIClient) error {
				client.Revoke()
				if err := repo.Save(client); err != nil {
					return err
				}
				fmt.Printf("Client %q revoked\n", client.Name)
				return nil
			})
		},
	}
}

func clientsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			clients, err := rt.repos.GetAPIClientRepository().List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tROLE\tKEY\tACTIVE\tLAST USED")
			for i := range clients {
				c := &clients[i]
				lastUsed := "-"
				if c.LastUsedAt != nil {
					lastUsed = c.LastUsedAt.UTC().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", c.Name, c.Role, c.APIKeyPrefix, c.IsActive(), lastUsed)
			}
			return w.Flush()
		},
	}
}

func withClient(name string, fn func(repository.APIClientRepository, *models.APIClient) error) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()

	repo := rt.repos.GetAPIClientRepository()
	client, err := repo.GetByName(name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("client %q not found", name)
	}
	if err != nil {
		return err
	}
	return fn(repo, client)
}
