package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/service"

	"github.com/spf13/cobra"
)

// cliActor is the operator at the console. It acts with sudo rights.
var cliActor = service.Actor{Name: "cli", Level: models.SudoAuthLevel}

var (
	apiKeyName     string
	authLevel      int
	expirationDays int
	keyOwnerID     uint

	siteName      string
	deviceOwnerID uint

	ownerName  string
	ownerEmail string
	ownerPhone string
)

// apiKeyCmd represents the apikey command
var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage owner API keys",
	Long:  `Create, list, and delete owner API keys with different authorization levels.`,
}

var generateKeyCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key",
	Long: `Generate a new API key with a specified authorization level:
  1: ViewerAuthLevel (read-only access to the owner's fleet)
  2: WriterAuthLevel (read/write access to the owner's fleet)
  3: SudoAuthLevel (administrative access, global alert rules)

Keys below sudo level must be bound to an owner with --owner.`,
	Run: func(cmd *cobra.Command, args []string) {
		generateAPIKey()
	},
}

var listKeysCmd = &cobra.Command{
	Use:   "list",
	Short: "List all API keys",
	Run: func(cmd *cobra.Command, args []string) {
		listAPIKeys()
	},
}

var deleteKeyCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an API key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			log.Fatalf("Invalid ID format: %v", err)
		}
		deleteAPIKey(uint(id))
	},
}

// deviceCmd represents the device command
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Provision devices and rotate their keys",
}

var provisionDeviceCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a new device and print its API key",
	Run: func(cmd *cobra.Command, args []string) {
		provisionDevice()
	},
}

var rotateDeviceKeyCmd = &cobra.Command{
	Use:   "rotate-key [device-id]",
	Short: "Issue a new API key for a device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rotateDeviceKey(args[0])
	},
}

// ownerCmd represents the owner command
var ownerCmd = &cobra.Command{
	Use:   "owner",
	Short: "Manage owner accounts",
}

var createOwnerCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an owner account",
	Run: func(cmd *cobra.Command, args []string) {
		createOwner()
	},
}

func init() {
	rootCmd.AddCommand(apiKeyCmd, deviceCmd, ownerCmd)
	apiKeyCmd.AddCommand(generateKeyCmd, listKeysCmd, deleteKeyCmd)
	deviceCmd.AddCommand(provisionDeviceCmd, rotateDeviceKeyCmd)
	ownerCmd.AddCommand(createOwnerCmd)

	generateKeyCmd.Flags().StringVarP(&apiKeyName, "name", "n", "", "Name for the API key (required)")
	generateKeyCmd.Flags().IntVarP(&authLevel, "level", "l", 1, "Authorization level (1-3)")
	generateKeyCmd.Flags().IntVarP(&expirationDays, "expiration", "e", 365, "Expiration in days (0 for never)")
	generateKeyCmd.Flags().UintVar(&keyOwnerID, "owner", 0, "Owner the key acts for")
	_ = generateKeyCmd.MarkFlagRequired("name")

	provisionDeviceCmd.Flags().StringVar(&siteName, "site", "", "Site name of the station (required)")
	provisionDeviceCmd.Flags().UintVar(&deviceOwnerID, "owner", 0, "Owner of the device")
	_ = provisionDeviceCmd.MarkFlagRequired("site")

	createOwnerCmd.Flags().StringVar(&ownerName, "name", "", "Owner name (required)")
	createOwnerCmd.Flags().StringVar(&ownerEmail, "email", "", "Alert email address")
	createOwnerCmd.Flags().StringVar(&ownerPhone, "phone", "", "Alert phone number in E.164 form")
	_ = createOwnerCmd.MarkFlagRequired("name")
}

func optionalID(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}

func generateAPIKey() {
	c := openAdmin()
	defer c.close()

	in := service.APIKeyInput{
		Name:    apiKeyName,
		OwnerID: optionalID(keyOwnerID),
		Level:   authLevel,
	}
	if expirationDays > 0 {
		in.ExpiresIn = time.Duration(expirationDays) * 24 * time.Hour
	}

	key, apiKey, err := c.svc.GenerateAPIKey(context.Background(), in)
	if err != nil {
		log.Fatalf("Failed to generate API key: %v", err)
	}

	fmt.Println("=================================================================")
	fmt.Println("API Key generated successfully!")
	fmt.Println("=================================================================")
	fmt.Printf("ID: %d\n", apiKey.ID)
	fmt.Printf("Name: %s\n", apiKey.Name)
	fmt.Printf("Authorization Level: %d\n", apiKey.AuthorizationLevel)
	if apiKey.OwnerID != nil {
		fmt.Printf("Owner: %d\n", *apiKey.OwnerID)
	}
	if apiKey.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", apiKey.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Println("Expires: Never")
	}
	fmt.Println("-----------------------------------------------------------------")
	fmt.Printf("API Key: %s\n", key)
	fmt.Println("-----------------------------------------------------------------")
	fmt.Println("IMPORTANT: Store this key securely. It won't be displayed again.")
	fmt.Println("=================================================================")
}

func listAPIKeys() {
	c := openAdmin()
	defer c.close()

	apiKeys, err := c.svc.ListAPIKeys(context.Background())
	if err != nil {
		log.Fatalf("Failed to list API keys: %v", err)
	}

	fmt.Println("=================================================================")
	fmt.Printf("Total API Keys: %d\n", len(apiKeys))
	fmt.Println("=================================================================")
	for _, key := range apiKeys {
		fmt.Printf("ID: %d\n", key.ID)
		fmt.Printf("Name: %s\n", key.Name)
		fmt.Printf("Authorization Level: %d\n", key.AuthorizationLevel)
		if key.ExpiresAt != nil {
			fmt.Printf("Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
		} else {
			fmt.Println("Expires: Never")
		}
		if key.LastUsedAt != nil {
			fmt.Printf("Last Used: %s\n", key.LastUsedAt.Format(time.RFC3339))
		} else {
			fmt.Println("Last Used: Never")
		}
		fmt.Println("-----------------------------------------------------------------")
	}
}

func deleteAPIKey(id uint) {
	c := openAdmin()
	defer c.close()

	if err := c.svc.DeleteAPIKey(context.Background(), id); err != nil {
		log.Fatalf("Failed to delete API key: %v", err)
	}

	fmt.Printf("API key with ID %d deleted successfully.\n", id)
}

func printDeviceKey(p *service.ProvisionedDevice) {
	fmt.Println("=================================================================")
	fmt.Printf("Device ID: %s\n", p.Device.DeviceID)
	fmt.Printf("Site: %s\n", p.Device.SiteName)
	if p.Device.OwnerID != nil {
		fmt.Printf("Owner: %d\n", *p.Device.OwnerID)
	}
	fmt.Println("-----------------------------------------------------------------")
	fmt.Printf("API Key: %s\n", p.APIKey)
	fmt.Println("-----------------------------------------------------------------")
	fmt.Println("IMPORTANT: Flash this key onto the device now. It won't be displayed again.")
	fmt.Println("=================================================================")
}

func provisionDevice() {
	c := openAdmin()
	defer c.close()

	p, err := c.svc.ProvisionDevice(context.Background(), cliActor, service.ProvisionDeviceInput{
		SiteName: siteName,
		OwnerID:  optionalID(deviceOwnerID),
	})
	if err != nil {
		log.Fatalf("Failed to provision device: %v", err)
	}
	printDeviceKey(p)
}

func rotateDeviceKey(deviceID string) {
	c := openAdmin()
	defer c.close()

	p, err := c.svc.RotateDeviceKey(context.Background(), cliActor, deviceID)
	if err != nil {
		log.Fatalf("Failed to rotate device key: %v", err)
	}
	printDeviceKey(p)
}

func createOwner() {
	c := openAdmin()
	defer c.close()

	owner, err := c.svc.CreateOwner(context.Background(), service.OwnerInput{
		Name:  ownerName,
		Email: ownerEmail,
		Phone: ownerPhone,
	})
	if err != nil {
		log.Fatalf("Failed to create owner: %v", err)
	}
	fmt.Printf("Owner %q created with ID %d.\n", owner.Name, owner.ID)
}
