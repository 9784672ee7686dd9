// qcomtee-client exercises a QTEE device: it registers a client
// environment, opens services and invokes them.
package main

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	qcomtee "github.com/ehrlich-b/go-qcomtee"
)

const (
	// UID of the QTEE diagnostics service.
	diagnosticsServiceUID = 143
	// IDiagnostics.queryHeapInfo
	diagnosticsOpQueryHeapInfo qcomtee.Op = 0

	// IAppLoader.loadFromBuffer
	appLoaderOpLoadFromBuffer qcomtee.Op = 0
	// IAppController.getAppObject
	appControllerOpGetAppObject qcomtee.Op = 2
	// ISMCIExample.add on the skeleton TA
	taOpAdd qcomtee.Op = 0
)

var (
	device    string
	verbose   bool
	loaderUID uint32
)

func main() {
	root := &cobra.Command{
		Use:   "qcomtee-client",
		Short: "Exercise QTEE services over the TEE driver",
	}
	root.PersistentFlags().StringVar(&device, "device", "/dev/tee0", "TEE device path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	diag := &cobra.Command{
		Use:   "diagnostics",
		Short: "Query QTEE heap diagnostics",
		RunE:  runDiagnostics,
	}

	loadTA := &cobra.Command{
		Use:   "load-ta <ta-file>",
		Short: "Load a trusted application and run its add operation",
		Args:  cobra.ExactArgs(1),
		RunE:  runLoadTA,
	}
	loadTA.Flags().Uint32Var(&loaderUID, "loader-uid", 3, "UID of the app loader service")

	root.AddCommand(diag, loadTA)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openEnv() (*qcomtee.Root, *qcomtee.Object, error) {
	level := hclog.Info
	if verbose {
		level = hclog.Debug
	}
	opts := qcomtee.DefaultRootOptions()
	opts.Logger = hclog.New(&hclog.LoggerOptions{Name: "qcomtee-client", Level: level})

	root, err := qcomtee.NewRoot(device, opts)
	if err != nil {
		return nil, nil, err
	}
	env, err := qcomtee.RegisterClient(root)
	if err != nil {
		root.Release()
		return nil, nil, err
	}
	return root, env, nil
}

// heapInfo mirrors the diagnostics service's queryHeapInfo response.
type heapInfo struct {
	totalSize        uint32
	usedSize         uint32
	freeSize         uint32
	overheadSize     uint32
	wastedSize       uint32
	largestFreeBlock uint32
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	root, env, err := openEnv()
	if err != nil {
		return err
	}
	defer root.Release()
	defer env.Release()

	svc, err := qcomtee.OpenService(env, diagnosticsServiceUID)
	if err != nil {
		return err
	}
	defer svc.Release()

	out := make([]byte, 24)
	params := []qcomtee.Param{qcomtee.UBufOut(out)}
	result, err := svc.Invoke(diagnosticsOpQueryHeapInfo, params)
	if err != nil {
		return err
	}
	if result != qcomtee.OK {
		return fmt.Errorf("queryHeapInfo: %s", result)
	}

	out = params[0].UBuf
	if len(out) < 24 {
		return fmt.Errorf("queryHeapInfo: short response (%d bytes)", len(out))
	}
	info := heapInfo{
		totalSize:        binary.LittleEndian.Uint32(out[0:4]),
		usedSize:         binary.LittleEndian.Uint32(out[4:8]),
		freeSize:         binary.LittleEndian.Uint32(out[8:12]),
		overheadSize:     binary.LittleEndian.Uint32(out[12:16]),
		wastedSize:       binary.LittleEndian.Uint32(out[16:20]),
		largestFreeBlock: binary.LittleEndian.Uint32(out[20:24]),
	}

	fmt.Printf("%-12d total bytes as heap\n", info.totalSize)
	fmt.Printf("%-12d bytes allocated from heap\n", info.usedSize)
	fmt.Printf("%-12d bytes free on heap\n", info.freeSize)
	fmt.Printf("%-12d bytes overhead\n", info.overheadSize)
	fmt.Printf("%-12d bytes wasted\n", info.wastedSize)
	fmt.Printf("%-12d largest free block\n", info.largestFreeBlock)
	return nil
}

func runLoadTA(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	root, env, err := openEnv()
	if err != nil {
		return err
	}
	defer root.Release()
	defer env.Release()

	loader, err := qcomtee.OpenService(env, loaderUID)
	if err != nil {
		return err
	}
	defer loader.Release()

	// loadFromBuffer returns the app controller, not the TA itself.
	params := []qcomtee.Param{qcomtee.UBufIn(image), qcomtee.ObjectOut()}
	result, err := loader.Invoke(appLoaderOpLoadFromBuffer, params)
	if err != nil {
		return err
	}
	if result != qcomtee.OK {
		return fmt.Errorf("loadFromBuffer: %s", result)
	}
	taController := params[1].Object
	defer taController.Release()

	ctrlParams := []qcomtee.Param{qcomtee.ObjectOut()}
	result, err = taController.Invoke(appControllerOpGetAppObject, ctrlParams)
	if err != nil {
		return err
	}
	if result != qcomtee.OK {
		return fmt.Errorf("getAppObject: %s", result)
	}
	ta := ctrlParams[0].Object
	defer ta.Release()

	// Drive the skeleton TA once: add two numbers below 100.
	nums := make([]byte, 8)
	a, b := uint32(rand.Intn(100)), uint32(rand.Intn(100))
	binary.LittleEndian.PutUint32(nums[0:4], a)
	binary.LittleEndian.PutUint32(nums[4:8], b)
	sum := make([]byte, 4)

	addParams := []qcomtee.Param{qcomtee.UBufIn(nums), qcomtee.UBufOut(sum)}
	result, err = ta.Invoke(taOpAdd, addParams)
	if err != nil {
		return err
	}
	if result != qcomtee.OK {
		return fmt.Errorf("add: %s", result)
	}

	got := binary.LittleEndian.Uint32(addParams[1].UBuf)
	if got != a+b {
		return fmt.Errorf("%d + %d is %d but TA returned %d", a, b, a+b, got)
	}
	fmt.Printf("TA loaded, %d + %d = %d\n", a, b, got)
	return nil
}
